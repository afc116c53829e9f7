package model

// UpdateKind enumerates notifications sent to the display process.
type UpdateKind string

const (
	UpdateSettings   UpdateKind = "settings"
	UpdateLayouts    UpdateKind = "layouts"
	UpdateScreenshot UpdateKind = "screenshot"
	UpdateWebhook    UpdateKind = "webhook"
	UpdateCommand    UpdateKind = "command"
)

// Update is an immutable message from the collect loop to the display.
type Update struct {
	Kind     UpdateKind      `json:"kind"`
	Settings *PlayerSettings `json:"settings,omitempty"`
	Layouts  []int64         `json:"layouts,omitempty"`
	Code     string          `json:"code,omitempty"`
}

type FeedbackKind string

const (
	FeedbackShownLayout   FeedbackKind = "shown_layout"
	FeedbackScreenshot    FeedbackKind = "screenshot"
	FeedbackCommandResult FeedbackKind = "command_result"
	FeedbackStats         FeedbackKind = "stats"
)

// Feedback is an immutable message from the display back to the collect loop.
type Feedback struct {
	Kind       FeedbackKind
	LayoutID   int64
	Screenshot []byte
	Success    bool
	Stats      string
}

// Status is the body of NotifyStatus.
type Status struct {
	CurrentLayoutID int64  `json:"currentLayoutId"`
	AvailableSpace  uint64 `json:"availableSpace"`
	TotalSpace      uint64 `json:"totalSpace"`
	DeviceName      string `json:"deviceName,omitempty"`
	TimeZone        string `json:"timeZone,omitempty"`
}
