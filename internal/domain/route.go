package domain

// NotificationFlags controls which events on a route produce a notification.
type NotificationFlags struct {
	OnCopy   bool
	OnFilter bool
	OnError  bool
}

// Route is a configured (source account, destination account, rule set)
// triple that produces one copy worker.
type Route struct {
	ID                    string
	Name                  string
	Source                string
	Destination           string
	RuleSet               string
	Enabled               bool
	CopyExistingPositions bool
	Notifications         NotificationFlags
	// StopLossBufferPips/TakeProfitBufferPips loosen the mirrored SL/TP
	// relative to the source position's. Zero means "use the
	// symbol-default distance" when the source has no SL/TP at all.
	StopLossBufferPips   float64
	TakeProfitBufferPips float64
}

// EmergencyStopConfig is the global kill-switch configuration.
type EmergencyStopConfig struct {
	Enabled        bool
	DailyLossLimit float64
}

// AlertSettings configures the performance monitor's alert thresholds and
// scheduled summary times.
type AlertSettings struct {
	PropFirmWarningThreshold float64
	ConsecutiveLossAlert     int
	SlippageThresholdPips    float64
	DailySummaryTimeUTC      string // "HH:MM"
	WeeklySummaryDay         string // weekday name, e.g. "Monday"
}

// GlobalSettings is the router-wide configuration outside any single route.
type GlobalSettings struct {
	EmergencyStop EmergencyStopConfig
	Alerts        AlertSettings
}
