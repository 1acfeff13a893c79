package domain

import "errors"

var (
	ErrChannelNotFound     = errors.New("channel not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrProducerNotFound    = errors.New("producer not found")
	ErrInvalidStreamKind   = errors.New("invalid stream kind")
	ErrInvalidName         = errors.New("name must not be empty")
	ErrNoWorkersAvailable  = errors.New("no workers available")
	ErrNoPortAvailable     = errors.New("no port available")
	ErrFolderClosed        = errors.New("folder is no longer open")
	ErrPipelineClosed      = errors.New("media pipeline closed")
	ErrNoCodec             = errors.New("consumer has no negotiated codec")
	ErrRecordingDisabled   = errors.New("recording is disabled")
	ErrWorkerClosed        = errors.New("worker closed")
)
