package stream

import "time"

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Title                     *string
	Status                    *Status
	Visibility                *Visibility
	ProviderInputID           *string
	ProviderAssetID           *string
	IngestCredentials         *IngestCredentials
	StartedAt                 *time.Time
	EndedAt                   *time.Time
	Recording                 *Recording
	LiveMissCount             *int
	NeedsManualRecordingCheck *bool
	LastError                 *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil &&
		p.Status == nil &&
		p.Visibility == nil &&
		p.ProviderInputID == nil &&
		p.ProviderAssetID == nil &&
		p.IngestCredentials == nil &&
		p.StartedAt == nil &&
		p.EndedAt == nil &&
		p.Recording == nil &&
		p.LiveMissCount == nil &&
		p.NeedsManualRecordingCheck == nil &&
		p.LastError == nil
}

// Apply merges p into s in place.
func (p Patch) Apply(s *Stream) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Visibility != nil {
		s.Visibility = *p.Visibility
	}
	if p.ProviderInputID != nil {
		s.ProviderInputID = *p.ProviderInputID
	}
	if p.ProviderAssetID != nil {
		s.ProviderAssetID = *p.ProviderAssetID
	}
	if p.IngestCredentials != nil {
		creds := *p.IngestCredentials
		s.IngestCredentials = &creds
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		s.StartedAt = &t
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		s.EndedAt = &t
	}
	if p.Recording != nil {
		rec := *p.Recording
		s.Recording = &rec
	}
	if p.LiveMissCount != nil {
		s.LiveMissCount = *p.LiveMissCount
	}
	if p.NeedsManualRecordingCheck != nil {
		s.NeedsManualRecordingCheck = *p.NeedsManualRecordingCheck
	}
	if p.LastError != nil {
		s.LastError = *p.LastError
	}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
