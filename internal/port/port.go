// Package port is the transport-agnostic boundary between the pipeline
// and whatever messaging layer the embedding extension uses. Requests and
// responses are tagged types, and all pipeline access is funneled through
// one serving goroutine.
package port

import (
	"context"
	"fmt"
	"sync"

	"streamsub/internal/deepl"
	"streamsub/internal/pipeline"
)

// Request is one typed message from the external collaborator.
type Request interface{ isRequest() }

// CueLookup resolves one detected subtitle cue.
type CueLookup struct{ Text string }

// Drain triggers batch processing of pending cues.
type Drain struct{}

// SetEnabled pauses or resumes the pipeline without dropping queued cues.
type SetEnabled struct{ Enabled bool }

// UseWorkItem switches to (and pre-warms) a work item.
type UseWorkItem struct{ ID string }

// ClearWorkItem drops the current work item's cached translations.
type ClearWorkItem struct{}

// UsageQuery reports the provider quota consumption.
type UsageQuery struct{}

func (CueLookup) isRequest()     {}
func (Drain) isRequest()         {}
func (SetEnabled) isRequest()    {}
func (UseWorkItem) isRequest()   {}
func (ClearWorkItem) isRequest() {}
func (UsageQuery) isRequest()    {}

// Response is the tagged reply to a Request.
type Response interface{ isResponse() }

type CueResult struct{ pipeline.Result }

type Ack struct{}

type ClearResult struct{ Units int64 }

type UsageResult struct{ deepl.Usage }

func (CueResult) isResponse()   {}
func (Ack) isResponse()         {}
func (ClearResult) isResponse() {}
func (UsageResult) isResponse() {}

// UsageClient is the quota surface of the provider. deepl.Client
// satisfies it.
type UsageClient interface {
	Usage(ctx context.Context) (deepl.Usage, error)
}

type envelope struct {
	ctx context.Context
	req Request
	out chan outcome
}

type outcome struct {
	resp Response
	err  error
}

// Server serializes requests onto the pipeline.
type Server struct {
	pipe   *pipeline.Pipeline
	usage  UsageClient
	reqs   chan envelope
	drains sync.WaitGroup
}

func NewServer(pipe *pipeline.Pipeline, usage UsageClient) *Server {
	return &Server{
		pipe:  pipe,
		usage: usage,
		reqs:  make(chan envelope),
	}
}

// Serve handles requests until ctx is done, then waits for any drains
// still in flight so callers can close the store behind the pipeline.
func (s *Server) Serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drains.Wait()
			return
		case env := <-s.reqs:
			resp, err := s.handle(ctx, env.ctx, env.req)
			env.out <- outcome{resp: resp, err: err}
		}
	}
}

// Send submits one request and waits for its reply.
func (s *Server) Send(ctx context.Context, req Request) (Response, error) {
	env := envelope{ctx: ctx, req: req, out: make(chan outcome, 1)}
	select {
	case s.reqs <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case o := <-env.out:
		return o.resp, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handle serves one request. Drains outlive the request that triggered
// them, so they run off the serving goroutine on the serve context.
func (s *Server) handle(serveCtx, ctx context.Context, req Request) (Response, error) {
	switch r := req.(type) {
	case CueLookup:
		res := s.pipe.Lookup(r.Text)
		if res.State == pipeline.StatePending {
			// The in-progress guard makes overlapping triggers no-ops.
			s.spawnDrain(serveCtx)
		}
		return CueResult{res}, nil
	case Drain:
		s.spawnDrain(serveCtx)
		return Ack{}, nil
	case SetEnabled:
		s.pipe.SetEnabled(r.Enabled)
		return Ack{}, nil
	case UseWorkItem:
		if err := s.pipe.UseWorkItem(ctx, r.ID); err != nil {
			return nil, err
		}
		return Ack{}, nil
	case ClearWorkItem:
		units, err := s.pipe.ClearWorkItem(ctx)
		if err != nil {
			return nil, err
		}
		return ClearResult{Units: units}, nil
	case UsageQuery:
		usage, err := s.usage.Usage(ctx)
		if err != nil {
			return nil, err
		}
		return UsageResult{usage}, nil
	default:
		return nil, fmt.Errorf("unknown request type %T", req)
	}
}

func (s *Server) spawnDrain(ctx context.Context) {
	s.drains.Add(1)
	go func() {
		defer s.drains.Done()
		s.pipe.DrainAndProcess(ctx)
	}()
}
