package pubsub

import "fmt"

// ChannelUserNotifications carries live notifications for one user; the
// websocket gateways subscribe to it per connected session.
const ChannelUserNotifications = "social:user:%s:notifications"

// UserNotificationChannel returns the live channel name for userID.
func UserNotificationChannel(userID string) string {
	return fmt.Sprintf(ChannelUserNotifications, userID)
}
