package stream

import "context"

// ListFilter narrows ListByMemorial results.
type ListFilter struct {
	Status     *Status
	Visibility *Visibility
	Limit      int
	Offset     int
}

// Normalize applies the default and maximum page size.
func (f *ListFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Store is durable CRUD for streams with merge-only updates.
type Store interface {
	Get(ctx context.Context, id string) (*Stream, error)
	Create(ctx context.Context, s *Stream) (string, error)
	Update(ctx context.Context, id string, patch Patch) (*Stream, error)
	Delete(ctx context.Context, id string) error
	ListByMemorial(ctx context.Context, memorialID string, filter ListFilter) ([]*Stream, int, error)
	FindByProviderInputID(ctx context.Context, provider Provider, inputID string) (*Stream, error)
	FindByProviderAssetID(ctx context.Context, provider Provider, assetID string) (*Stream, error)
	ListReconcilable(ctx context.Context, limit int) ([]*Stream, error)

	GetMemorial(ctx context.Context, id string) (*Memorial, error)
	UpsertMemorial(ctx context.Context, m *Memorial) error

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, streamID string, limit int) ([]*AuditEntry, error)
}
