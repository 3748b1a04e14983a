package client

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"show-messenger/internal/constants"
	"show-messenger/internal/messaging"
)

// 時間線渲染的純函數，無狀態

// DayGroup 同一天的訊息分組
type DayGroup struct {
	Label    string
	Date     time.Time // 當天零點（指定時區）
	Messages []*messaging.Message
}

// GroupByDay 按日曆日分組訊息
// 日界線統一使用調用方指定的時區，整個客戶端用同一個 loc
func GroupByDay(messages []*messaging.Message, loc *time.Location, now time.Time) []DayGroup {
	if loc == nil {
		loc = time.Local
	}

	var groups []DayGroup
	for _, m := range messages {
		day := startOfDay(m.CreatedAt.In(loc))
		if len(groups) == 0 || !groups[len(groups)-1].Date.Equal(day) {
			groups = append(groups, DayGroup{
				Label: DayLabel(day, loc, now),
				Date:  day,
			})
		}
		groups[len(groups)-1].Messages = append(groups[len(groups)-1].Messages, m)
	}
	return groups
}

// startOfDay 當天零點
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DayLabel 日期分組標籤：今天、昨天，其餘顯示日期
func DayLabel(day time.Time, loc *time.Location, now time.Time) string {
	if loc == nil {
		loc = time.Local
	}
	today := startOfDay(now.In(loc))

	switch {
	case day.Equal(today):
		return "今天"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "昨天"
	case day.Year() == today.Year():
		return day.Format("1月2日")
	default:
		return day.Format("2006年1月2日")
	}
}

// FormatMessageTime 訊息時間戳顯示（當天時分，其餘帶日期）
func FormatMessageTime(t time.Time, loc *time.Location, now time.Time) string {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	if startOfDay(local).Equal(startOfDay(now.In(loc))) {
		return local.Format("15:04")
	}
	return local.Format("1月2日 15:04")
}

// TruncatePreview 按 rune 截斷預覽文本，換行折疊為空格
func TruncatePreview(content string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	if utf8.RuneCountInString(content) <= constants.PreviewMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:constants.PreviewMaxRunes]) + "..."
}

// FormatUnreadBadge 未讀徽章文本，超過上限顯示 "99+"
// 零返回空串表示不顯示徽章
func FormatUnreadBadge(count int) string {
	if count <= 0 {
		return ""
	}
	if count > constants.UnreadBadgeCap {
		return fmt.Sprintf("%d+", constants.UnreadBadgeCap)
	}
	return fmt.Sprintf("%d", count)
}
