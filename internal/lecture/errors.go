package lecture

import (
	"fmt"

	"liveclass/pkg/types"
)

var (
	ErrLectureNotFound    = fmt.Errorf("%w: lecture not found", types.ErrNotFound)
	ErrMissingStudentID   = fmt.Errorf("%w: studentId is required", types.ErrValidation)
	ErrNotInLecture       = fmt.Errorf("%w: connection has not joined this lecture", types.ErrState)
	ErrNotLecturer        = fmt.Errorf("%w: only a lecturer may do this", types.ErrState)
	ErrLecturerMustStart  = fmt.Errorf("%w: lecturers start presentations directly", types.ErrState)
	ErrNoLecturer         = fmt.Errorf("%w: no lecturer has joined this lecture", types.ErrState)
	ErrAlreadyPresenting  = fmt.Errorf("%w: a presentation is already running", types.ErrState)
	ErrNoPendingRequest   = fmt.Errorf("%w: student has no pending presentation request", types.ErrState)
	ErrCoordinatorStopped = fmt.Errorf("%w: lecture coordinator stopped", types.ErrState)
)
