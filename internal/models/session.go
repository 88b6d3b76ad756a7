package models

import "gorm.io/gorm"

// DeliveryProtocol identifies how media is delivered to a client.
type DeliveryProtocol string

const (
	// ProtocolDirect serves the source file bytes unmodified.
	ProtocolDirect DeliveryProtocol = "direct"
	// ProtocolHLS serves segmented output with an HLS playlist.
	ProtocolHLS DeliveryProtocol = "hls"
	// ProtocolDASH serves segmented output with a DASH manifest.
	ProtocolDASH DeliveryProtocol = "dash"
)

// Valid returns true for a known delivery protocol.
func (p DeliveryProtocol) Valid() bool {
	switch p {
	case ProtocolDirect, ProtocolHLS, ProtocolDASH:
		return true
	}
	return false
}

// SessionState is the lifecycle state of a playback session record.
type SessionState string

const (
	// SessionStateActive indicates the session is serving a client.
	SessionStateActive SessionState = "active"
	// SessionStateClosed indicates the client closed the session.
	SessionStateClosed SessionState = "closed"
	// SessionStateExpired indicates the session was reaped after idling.
	SessionStateExpired SessionState = "expired"
)

// SessionRecord is the persisted history of a playback session. The live
// session state lives in memory; records exist for listing and post-hoc
// inspection and survive restarts.
type SessionRecord struct {
	BaseModel

	// MediaPath is the source file the session plays.
	MediaPath string `gorm:"not null;size:1024" json:"media_path"`

	// Protocol is the delivery protocol chosen at open time.
	Protocol DeliveryProtocol `gorm:"not null;size:10;index" json:"protocol"`

	// Profile is the name of the selected quality profile. Empty for
	// direct-play sessions.
	Profile string `gorm:"size:50" json:"profile,omitempty"`

	// State is the current lifecycle state.
	State SessionState `gorm:"not null;default:'active';size:20;index" json:"state"`

	// ClientAddr is the remote address that opened the session.
	ClientAddr string `gorm:"size:64" json:"client_addr,omitempty"`

	// UserAgent is the client's User-Agent header, when present.
	UserAgent string `gorm:"size:255" json:"user_agent,omitempty"`

	// LastAccessAt is the time of the most recent client request.
	LastAccessAt Time `gorm:"index" json:"last_access_at"`

	// ClosedAt is set when the session leaves the active state.
	ClosedAt *Time `json:"closed_at,omitempty"`
}

// TableName returns the table name for SessionRecord.
func (SessionRecord) TableName() string {
	return "sessions"
}

// IsActive returns true while the session is serving a client.
func (s *SessionRecord) IsActive() bool {
	return s.State == SessionStateActive
}

// MarkClosed marks the session as closed by the client.
func (s *SessionRecord) MarkClosed() {
	s.State = SessionStateClosed
	now := Now()
	s.ClosedAt = &now
}

// MarkExpired marks the session as reaped after idling past its timeout.
func (s *SessionRecord) MarkExpired() {
	s.State = SessionStateExpired
	now := Now()
	s.ClosedAt = &now
}

// Touch records client activity.
func (s *SessionRecord) Touch() {
	s.LastAccessAt = Now()
}

// Validate performs basic validation on the session record.
func (s *SessionRecord) Validate() error {
	if s.MediaPath == "" {
		return ErrMediaPathRequired
	}
	if s.Protocol == "" {
		return ErrProtocolRequired
	}
	if !s.Protocol.Valid() {
		return ErrInvalidProtocol
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the record and generates a ULID.
func (s *SessionRecord) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if s.LastAccessAt.IsZero() {
		s.LastAccessAt = Now()
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the record before update.
func (s *SessionRecord) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
