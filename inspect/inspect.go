package inspect

import "time"

type EngineInspectResult struct {
	EngineId          string                   `json:"engineId"`
	Version           string                   `json:"version"`
	Phase             string                   `json:"phase"`
	SessionOpen       bool                     `json:"sessionOpen"`
	State             *LifecycleStateDetail    `json:"state"`
	Settings          *SettingsDetail          `json:"settings,omitempty"`
	PendingTriggers   []*PendingTriggerDetail  `json:"pendingTriggers"`
	SmartListener     bool                     `json:"smartListenerSubscribed"`
	PrechecksInFlight int                      `json:"prechecksInFlight"`
	Notifications     *NotificationCountDetail `json:"notifications,omitempty"`
	Closed            bool                     `json:"closed"`
}

type LifecycleStateDetail struct {
	Interactive  bool `json:"interactive"`
	Secured      bool `json:"secured"`
	TrustManaged bool `json:"trustManaged"`
	Insecure     bool `json:"insecure"`
	Showing      bool `json:"showing"`
	SessionId    int  `json:"sessionId"`
}

type SettingsDetail struct {
	DirectUnlock       string `json:"directUnlock"`
	DirectUnlockPolicy string `json:"directUnlockPolicy"`
	SmartUnlock        bool   `json:"smartUnlock"`
	SmartUnlockPolicy  string `json:"smartUnlockPolicy"`
	QuickUnlock        bool   `json:"quickUnlock"`
	PinLength          int    `json:"pinLength"`
}

type PendingTriggerDetail struct {
	Kind string    `json:"kind"`
	Due  time.Time `json:"due"`
}

type NotificationCountDetail struct {
	Visible          int `json:"visible"`
	VisibleClearable int `json:"visibleClearable"`
}
