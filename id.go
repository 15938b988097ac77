package sluice

import "github.com/sluicelabs/sluice/id"

// RequestID identifies a submitted request.
type RequestID = id.RequestID

// WorkerID identifies one worker loop in the pool.
type WorkerID = id.WorkerID
