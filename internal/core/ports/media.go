package ports

import (
	"context"

	"rillrec/internal/core/domain"
)

type PortPool interface {
	Acquire() (int, error)
	Release(port int)
}

// Folder is a staging directory that ends either sealed or deleted.
type Folder interface {
	Name() string
	Path() string
	Add(name string, content []byte) error
	// Seal moves the folder to its permanent location and returns the new path.
	Seal(name string) (string, error)
	Delete() error
}

type FolderStore interface {
	Create(ctx context.Context) (Folder, error)
}

type Encoder interface {
	Filename() string
	Exited() <-chan struct{}
	Close() error
}

type EncoderLauncher interface {
	Launch(ctx context.Context, params domain.CodecParameters, dir, baseName string) (Encoder, error)
}

type PipelineOptions struct {
	Router        Router
	Producer      Producer
	ParticipantID domain.ParticipantID
	Label         string
	Kind          domain.StreamKind
	Directory     string
	OnFileState   func(domain.FileState)
}

type Pipeline interface {
	State() domain.PipelineState
	Params() (domain.CodecParameters, bool)
	Close() error
	// Done is closed once the pipeline has released all its resources.
	Done() <-chan struct{}
}

type PipelineFactory interface {
	Open(opts PipelineOptions) Pipeline
}
