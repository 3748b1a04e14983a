package constants

// 平台角色常數
const (
	RoleAttendee      = "attendee"
	RoleDealer        = "dealer"
	RoleMVPDealer     = "mvp_dealer"
	RoleShowOrganizer = "show_organizer"
	RoleAdmin         = "admin"
)

// CanModerate 判斷角色是否具備管理訊息的權限
func CanModerate(role string) bool {
	return role == RoleShowOrganizer || role == RoleAdmin
}

// CanBroadcast 判斷角色是否可以發送展會廣播
func CanBroadcast(role string) bool {
	return role == RoleShowOrganizer || role == RoleAdmin
}
