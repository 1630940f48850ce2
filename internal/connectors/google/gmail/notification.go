package gmail

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// ErrInvalidNotification indicates a Pub/Sub payload that is not a Gmail
// change notification.
var ErrInvalidNotification = errors.New("gmail: invalid notification payload")

// notificationPayload is the JSON Gmail publishes to the watch topic.
// historyId arrives as a number, some relays forward it as a string.
type notificationPayload struct {
	EmailAddress string          `json:"emailAddress"`
	HistoryID    json.RawMessage `json:"historyId"`
}

// ParseNotification decodes the data of a Gmail watch message.
func ParseNotification(data []byte, source domain.NotificationSource, receivedAt time.Time) (domain.Notification, error) {
	var p notificationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}

	email := strings.TrimSpace(p.EmailAddress)
	if email == "" {
		return domain.Notification{}, fmt.Errorf("%w: missing emailAddress", ErrInvalidNotification)
	}

	return domain.Notification{
		EmailAddress: email,
		Marker:       string(bytes.Trim(bytes.TrimSpace(p.HistoryID), `"`)),
		Source:       source,
		ReceivedAt:   receivedAt,
	}, nil
}
