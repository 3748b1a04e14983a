package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"show-messenger/internal/apiclient"
	"show-messenger/internal/client"
	"show-messenger/internal/messaging"
)

// 互動式測試客戶端：列出對話、打開對話視窗、發送與接收訊息
func main() {
	var (
		serverURL      = flag.String("server", "http://localhost:8080", "API 服務器地址")
		userID         = flag.String("user", "", "用戶 ID（服務端未啟用 JWT 時）")
		token          = flag.String("token", "", "JWT token")
		conversationID = flag.String("conversation", "", "直接打開的對話 ID")
		recipientID    = flag.String("to", "", "開新一對一對話的收件人 ID")
	)
	flag.Parse()

	if *userID == "" && *token == "" {
		log.Fatal("必須指定 -user 或 -token")
	}

	opts := []apiclient.Option{}
	if *token != "" {
		opts = append(opts, apiclient.WithToken(*token))
	}
	if *userID != "" {
		opts = append(opts, apiclient.WithUserID(*userID))
	}
	api := apiclient.New(*serverURL, opts...)

	ctx := context.Background()

	// 沒有指定對話時先列出對話
	if *conversationID == "" && *recipientID == "" {
		listConversations(ctx, api, *userID)
		return
	}

	openWindow(ctx, api, *userID, *conversationID, *recipientID)
}

// listConversations 列出用戶的對話
func listConversations(ctx context.Context, api *apiclient.Client, userID string) {
	list := client.NewConversationList(api, userID)
	if err := list.LoadPage(ctx); err != nil {
		log.Fatalf("加載對話列表失敗: %v", err)
	}

	switch list.State() {
	case client.EmptyStateNoConversations:
		fmt.Println("尚無對話，使用 -to <user_id> 開始新對話")
		return
	default:
	}

	fmt.Println("=== 對話列表 ===")
	for _, conv := range list.Visible() {
		badge := client.FormatUnreadBadge(conv.UnreadCount)
		if badge != "" {
			badge = " [" + badge + "]"
		}
		name := conv.Name
		if name == "" {
			name = conv.ID
		}
		fmt.Printf("%s  %s%s\n    %s\n", conv.ID, name, badge, client.TruncatePreview(conv.LastMessage))
	}
}

// openWindow 打開對話視窗並進入互動模式
func openWindow(ctx context.Context, api *apiclient.Client, userID, conversationID, recipientID string) {
	var windowOpts []client.WindowOption
	if recipientID != "" {
		windowOpts = append(windowOpts, client.WithRecipient(recipientID))
	}

	window := client.NewChatWindow(api, userID, conversationID, windowOpts...)
	defer window.Close()

	if err := window.Open(ctx); err != nil {
		log.Fatalf("打開對話失敗: %v", err)
	}

	printTimeline(window.Messages())

	fmt.Println("--- 輸入訊息後按 Enter 發送，/retry 重試失敗訊息，/quit 離開 ---")

	// 定期刷新顯示新事件
	go func() {
		lastCount := len(window.Messages())
		for {
			time.Sleep(time.Second)
			msgs := window.Messages()
			if len(msgs) > lastCount {
				for _, m := range msgs[lastCount:] {
					printMessage(m)
				}
				lastCount = len(msgs)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return
		case line == "/retry":
			retryAll(ctx, window)
		case line == "":
		default:
			if err := window.Send(ctx, line); err != nil {
				fmt.Printf("發送失敗: %v（使用 /retry 重試）\n", err)
			}
		}
	}
}

// retryAll 重試所有待重試訊息
func retryAll(ctx context.Context, window *client.ChatWindow) {
	pending := window.Pending()
	if len(pending) == 0 {
		fmt.Println("沒有待重試的訊息")
		return
	}
	for _, p := range pending {
		if err := window.RetryPending(ctx, p.ClientRef); err != nil {
			fmt.Printf("重試失敗 (%d/%d 次): %v\n", p.RetryCount+1, 3, err)
		} else {
			fmt.Println("重試成功")
		}
	}
}

// printTimeline 按日期分組打印時間線
func printTimeline(messages []*messaging.Message) {
	groups := client.GroupByDay(messages, time.Local, time.Now())
	for _, g := range groups {
		fmt.Printf("===== %s =====\n", g.Label)
		for _, m := range g.Messages {
			printMessage(m)
		}
	}
}

// printMessage 打印單條訊息
func printMessage(m *messaging.Message) {
	read := ""
	if m.ReadByOther {
		read = " ✓"
	}
	fmt.Printf("[%s] %s: %s%s\n",
		client.FormatMessageTime(m.CreatedAt, time.Local, time.Now()), m.SenderID, m.Content, read)
}
