package entity

import "context"

// Optional hooks an entity may implement. The data source checks for them with
// type assertions.

// RowMapper derives fields that follow no naming convention from the raw row.
// Called after conventional mapping.
type RowMapper interface {
	MapRow(row map[string]any)
}

// DataMapper adjusts the column values about to be written
type DataMapper interface {
	MapData(data map[string]any)
}

type PreSaver interface {
	PreSave(ctx context.Context) error
}

type PostInserter interface {
	PostInsert(ctx context.Context) error
}

type PostUpdater interface {
	PostUpdate(ctx context.Context) error
}

type PreDeleter interface {
	PreDelete(ctx context.Context) error
}

type PostDeleter interface {
	PostDelete(ctx context.Context) error
}
