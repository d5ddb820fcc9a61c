// Package service holds the run operations exposed through the api
// dispatcher. Every operation has the dispatcher signature
// func(ctx, *Request, *Response) error or func(ctx, *Response) error.
package service

import (
	"context"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/runtracker/internal/geo"
	"nuha.dev/runtracker/internal/store"
	"nuha.dev/runtracker/internal/tracker"
)

const defaultListLimit = 20

type BasicResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

type SessionModel struct {
	Id        string        `json:"id"`
	State     string        `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	StoppedAt *time.Time    `json:"stopped_at,omitempty"`
	Stats     tracker.Stats `json:"stats"`
	Points    int           `json:"points"`
	Route     geo.Route     `json:"route,omitempty"`
}

func newSessionModel(s tracker.Session, withRoute bool) *SessionModel {
	m := &SessionModel{
		Id:        s.ID,
		State:     s.State.String(),
		StartedAt: s.StartedAt,
		Stats:     s.Stats,
		Points:    len(s.Route),
	}
	if !s.StoppedAt.IsZero() {
		t := s.StoppedAt
		m.StoppedAt = &t
	}
	if withRoute {
		m.Route = s.Route
	}
	return m
}

type StartRunResponse struct {
	BasicResponse
	Session *SessionModel `json:"session"`
}

type StopRunResponse struct {
	BasicResponse
	Session *SessionModel `json:"session"`
	RunId   string        `json:"run_id,omitempty"`
}

type RunStatusRequest struct {
	WithRoute bool `json:"with_route"`
}

type RunStatusResponse struct {
	State   string        `json:"state"`
	Session *SessionModel `json:"session,omitempty"`
}

type GetRunsRequest struct {
	Limit int `json:"limit" validate:"omitempty,min=1,max=500"`
}

type GetRunsResponse struct {
	Runs []store.RunSummary `json:"runs"`
}

type RunIdRequest struct {
	Id string `json:"id" validate:"required"`
}

type PushFixRequest struct {
	Latitude  *float64   `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64   `json:"longitude" validate:"required,min=-180,max=180"`
	Timestamp *time.Time `json:"timestamp"`
}

// Runner is the part of *tracker.Tracker the operations drive.
type Runner interface {
	Start(ctx context.Context) (tracker.Session, error)
	Stop() (tracker.Session, error)
	Reset() error
	State() tracker.State
	Current() (tracker.Session, bool)
	PushFix(p geo.Point) error
}

type RunService struct {
	trk   Runner
	store store.RunStore
	log   log.Logger
}

func NewRunService(trk Runner, st store.RunStore) *RunService {
	s := &RunService{trk: trk, store: st}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "run-service").Value()
	return s
}

func (s *RunService) StartRun(ctx context.Context, res *StartRunResponse) error {
	sess, err := s.trk.Start(ctx)
	if err != nil {
		return err
	}
	res.Session = newSessionModel(sess, true)
	return nil
}

// StopRun freezes the running session and archives it. An archive failure
// does not undo the stop; the response then carries no run id.
func (s *RunService) StopRun(ctx context.Context, res *StopRunResponse) error {
	sess, err := s.trk.Stop()
	if err != nil {
		return err
	}
	res.Session = newSessionModel(sess, true)
	if s.store == nil {
		return nil
	}
	id, err := s.store.Put(ctx, sess)
	if err != nil {
		s.log.Error().Err(err).Str("session", sess.ID).Msg("unable to archive run")
		res.Status = -1
		res.Message = "run stopped but not archived"
		return nil
	}
	res.RunId = id
	return nil
}

func (s *RunService) ResetRun(ctx context.Context, res *BasicResponse) error {
	return s.trk.Reset()
}

func (s *RunService) GetRunStatus(ctx context.Context, req *RunStatusRequest, res *RunStatusResponse) error {
	res.State = s.trk.State().String()
	sess, ok := s.trk.Current()
	if ok {
		res.State = sess.State.String()
		res.Session = newSessionModel(sess, req.WithRoute)
	}
	return nil
}

func (s *RunService) GetRuns(ctx context.Context, req *GetRunsRequest, res *GetRunsResponse) error {
	limit := req.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	runs, err := s.store.List(ctx, limit)
	if err != nil {
		return err
	}
	res.Runs = runs
	return nil
}

func (s *RunService) GetRun(ctx context.Context, req *RunIdRequest, res *store.RunRecord) error {
	rec, err := s.store.Get(ctx, req.Id)
	if err != nil {
		return err
	}
	*res = *rec
	return nil
}

type ClearRunsResponse struct {
	Removed int `json:"removed"`
}

func (s *RunService) DeleteRun(ctx context.Context, req *RunIdRequest, res *BasicResponse) error {
	return s.store.Delete(ctx, req.Id)
}

// ClearRuns empties the run history. The live session is untouched.
func (s *RunService) ClearRuns(ctx context.Context, res *ClearRunsResponse) error {
	n, err := s.store.Clear(ctx)
	if err != nil {
		return err
	}
	s.log.Info().Int("removed", n).Msg("run history cleared")
	res.Removed = n
	return nil
}

// PushFix injects a fix by hand, as if the location source had produced it.
// It fails unless the fix reached a Tracking session.
func (s *RunService) PushFix(ctx context.Context, req *PushFixRequest, res *BasicResponse) error {
	t := time.Now().UTC()
	if req.Timestamp != nil {
		t = *req.Timestamp
	}
	return s.trk.PushFix(geo.NewPoint(*req.Latitude, *req.Longitude, t))
}
