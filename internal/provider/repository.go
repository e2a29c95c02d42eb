package provider

import "context"

// UpdateFunc turns the stored row into the row to write back.
type UpdateFunc func(current Provider) (Provider, error)

// Repository is the durable provider store. Names are unique: Create returns
// serviceerr.ErrConflict for a taken name, and Get, Update and Delete return
// serviceerr.ErrNotFound for an unknown one. Create and Update return the
// row as committed, including the store managed timestamps.
//
// Update reads the row, calls fn and writes its result in one transaction
// that keeps concurrent writers of the same row out. An error from fn
// aborts the update and is returned as is.
//
// Delete refuses with serviceerr.ErrInvalidState while at most one provider
// is stored. The count and the delete share one transaction.
type Repository interface {
	Get(ctx context.Context, name string) (Provider, error)
	List(ctx context.Context) ([]Provider, error)
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, provider Provider) (Provider, error)
	Update(ctx context.Context, name string, fn UpdateFunc) (Provider, error)
	Delete(ctx context.Context, name string) error
}
