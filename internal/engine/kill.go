package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lu-zhengda/portman/internal/port"
)

// KillState is the position of the kill workflow.
type KillState string

const (
	KillIdle           KillState = "idle"
	KillConfirmPending KillState = "confirm_pending"
	KillKilling        KillState = "killing"
	KillSucceeded      KillState = "succeeded"
	KillFailed         KillState = "failed"
	KillCancelled      KillState = "cancelled"
)

func allowedKillTransition(cur, next KillState) bool {
	switch cur {
	case KillIdle:
		return next == KillConfirmPending
	case KillConfirmPending:
		return next == KillKilling || next == KillCancelled
	case KillKilling:
		return next == KillSucceeded || next == KillFailed
	case KillSucceeded, KillFailed, KillCancelled:
		return next == KillIdle
	default:
		return false
	}
}

// KillRequest describes the process an operator asked to kill, as it looked
// when the request was made.
type KillRequest struct {
	PID     int
	Process string
	Ports   []int // sorted, distinct
}

func newKillRequest(pid int, entries []port.PortEntry) KillRequest {
	req := KillRequest{PID: pid}
	seen := make(map[int]struct{})
	for _, e := range entries {
		if e.PID != pid {
			continue
		}
		if req.Process == "" {
			req.Process = e.Process
		}
		if _, ok := seen[e.Port]; ok {
			continue
		}
		seen[e.Port] = struct{}{}
		req.Ports = append(req.Ports, e.Port)
	}
	sort.Ints(req.Ports)
	return req
}

// Prompt returns the confirmation question shown to the operator.
func (r KillRequest) Prompt() string {
	if len(r.Ports) == 0 {
		return fmt.Sprintf("Are you sure you want to kill process %d?", r.PID)
	}
	ports := make([]string, len(r.Ports))
	for i, p := range r.Ports {
		ports[i] = strconv.Itoa(p)
	}
	noun := "port"
	if len(ports) > 1 {
		noun = "ports"
	}
	return fmt.Sprintf("Are you sure you want to kill process %d (listening on %s: %s)?",
		r.PID, noun, strings.Join(ports, ", "))
}

// KillOutcome records how a confirmed kill ended.
type KillOutcome struct {
	Request  KillRequest
	State    KillState // KillSucceeded or KillFailed
	Err      error     // provider error, or ErrNotTerminated
	Finished time.Time
}

// killMachine is the workflow state. It is guarded by Engine.mu.
type killMachine struct {
	state   KillState
	pending KillRequest
	last    *KillOutcome
}

func (k *killMachine) transition(next KillState) error {
	if !allowedKillTransition(k.state, next) {
		return fmt.Errorf("%w: %s -> %s", errInvalidTransition, k.state, next)
	}
	k.state = next
	return nil
}
