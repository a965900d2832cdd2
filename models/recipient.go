package models

// RecipientContact is the delivery view of a user, resolved at dispatch time.
type RecipientContact struct {
	ID           string                  `json:"id" bson:"_id"`
	DeviceTokens []string                `json:"-" bson:"deviceTokens,omitempty"`
	Email        string                  `json:"email" bson:"email"`
	Phone        string                  `json:"phone" bson:"phone"`
	Locale       string                  `json:"locale" bson:"locale"`
	Preferences  NotificationPreferences `json:"preferences" bson:"preferences"`
}

type NotificationPreferences struct {
	Push            bool     `json:"push" bson:"push"`
	Email           bool     `json:"email" bson:"email"`
	SMS             bool     `json:"sms" bson:"sms"`
	InApp           bool     `json:"inApp" bson:"inApp"`
	DailyDigest     bool     `json:"dailyDigest" bson:"dailyDigest"`
	MutedCategories []string `json:"mutedCategories,omitempty" bson:"mutedCategories,omitempty"`
}

// DefaultPreferences enables every channel except the digest.
func DefaultPreferences() NotificationPreferences {
	return NotificationPreferences{Push: true, Email: true, SMS: true, InApp: true}
}

func (p NotificationPreferences) Allows(ch Channel) bool {
	switch ch {
	case ChannelPush:
		return p.Push
	case ChannelEmail:
		return p.Email
	case ChannelSMS:
		return p.SMS
	case ChannelInApp:
		return p.InApp
	default:
		return false
	}
}

// IsMuted reports whether the recipient muted a category. Emergency alerts can't be muted.
func (p NotificationPreferences) IsMuted(category NotificationCategory) bool {
	if category == CategoryEmergency {
		return false
	}
	for _, c := range p.MutedCategories {
		if c == string(category) {
			return true
		}
	}
	return false
}
