package models

import "time"

type NotificationAnalytics struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	TotalCreated   int64 `json:"totalCreated"`
	TotalSent      int64 `json:"totalSent"`
	Delivered      int64 `json:"delivered"`
	Failed         int64 `json:"failed"`
	ReadCount      int64 `json:"readCount"`
	DismissedCount int64 `json:"dismissedCount"`

	PerChannelDelivered map[Channel]int64 `json:"perChannelDelivered"`
	PerChannelFailed    map[Channel]int64 `json:"perChannelFailed"`

	DeliveryRate float64   `json:"deliveryRate"` // delivered / sent
	ReadRate     float64   `json:"readRate"`     // read / delivered
	GeneratedAt  time.Time `json:"generatedAt"`
}

// Add tallies one notification created inside the range.
func (a *NotificationAnalytics) Add(n *Notification) {
	a.TotalCreated++
	if n.ReadAt != nil {
		a.ReadCount++
	}
	if n.DismissedAt != nil {
		a.DismissedCount++
	}
	anyDelivered := false
	for _, ch := range AllChannels {
		st := n.DeliveryMethods.Get(ch)
		switch {
		case st.Delivered:
			a.PerChannelDelivered[ch]++
			anyDelivered = true
		case st.Error != "":
			a.PerChannelFailed[ch]++
		}
	}
	if n.SentAt == nil {
		return
	}
	a.TotalSent++
	if anyDelivered {
		a.Delivered++
	} else if n.Status != StatusSent {
		a.Failed++
	}
}

// ComputeRates fills the derived rate fields.
func (a *NotificationAnalytics) ComputeRates() {
	a.DeliveryRate, a.ReadRate = 0, 0
	if a.TotalSent > 0 {
		a.DeliveryRate = float64(a.Delivered) / float64(a.TotalSent)
	}
	if a.Delivered > 0 {
		a.ReadRate = float64(a.ReadCount) / float64(a.Delivered)
	}
}

// Clone returns a copy that shares no maps with a.
func (a *NotificationAnalytics) Clone() *NotificationAnalytics {
	out := *a
	out.PerChannelDelivered = cloneCounts(a.PerChannelDelivered)
	out.PerChannelFailed = cloneCounts(a.PerChannelFailed)
	return &out
}

func cloneCounts(in map[Channel]int64) map[Channel]int64 {
	if in == nil {
		return nil
	}
	out := make(map[Channel]int64, len(in))
	for ch, n := range in {
		out[ch] = n
	}
	return out
}

func NewNotificationAnalytics(start, end time.Time) *NotificationAnalytics {
	a := &NotificationAnalytics{
		Start:               start,
		End:                 end,
		PerChannelDelivered: make(map[Channel]int64, len(AllChannels)),
		PerChannelFailed:    make(map[Channel]int64, len(AllChannels)),
	}
	for _, ch := range AllChannels {
		a.PerChannelDelivered[ch] = 0
		a.PerChannelFailed[ch] = 0
	}
	return a
}
