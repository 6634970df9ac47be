package timesync

import (
	"sync"

	"github.com/mcdev12/ordersync/go/internal/protocol"
)

// Clock is the part of the logical clock the exchange needs
type Clock interface {
	Now() float64
	Adjust(delta float64)
}

// Sample is the outcome of one completed round trip
type Sample struct {
	SendTime    float64 `json:"send_time"`    // t0, local
	ServerTime  float64 `json:"server_time"`  // reference time from the response
	ReceiveTime float64 `json:"receive_time"` // t1, local
	RTT         float64 `json:"rtt"`
	Estimate    float64 `json:"estimate"` // server time at t1, assuming symmetric delay
	Delta       float64 `json:"delta"`    // correction applied to the clock
}

// Estimate applies the round-trip estimator to one exchange. The outbound
// and return legs are assumed to take equally long.
func Estimate(t0, serverTime, t1 float64) Sample {
	rtt := t1 - t0
	est := serverTime + rtt/2
	return Sample{
		SendTime:    t0,
		ServerTime:  serverTime,
		ReceiveTime: t1,
		RTT:         rtt,
		Estimate:    est,
		Delta:       est - t1,
	}
}

// Exchange tracks the single outstanding time request of one client and
// corrects its clock when the matching response arrives.
type Exchange struct {
	clock Clock

	mu          sync.Mutex
	outstanding bool
	t0          float64
	last        *Sample
	completed   int
}

// NewExchange creates an exchange bound to clock
func NewExchange(clock Clock) *Exchange {
	return &Exchange{clock: clock}
}

// IssueRequest records the send time and returns the request to transmit.
// A request still in flight is forgotten; its response will be treated as
// the answer to this one.
func (e *Exchange) IssueRequest() protocol.TimeRequest {
	t0 := e.clock.Now()

	e.mu.Lock()
	e.outstanding = true
	e.t0 = t0
	e.mu.Unlock()

	return protocol.TimeRequest{}
}

// OnResponse completes the outstanding exchange with the server's reference
// time and adjusts the clock. It returns false, changing nothing, when no
// request is outstanding.
func (e *Exchange) OnResponse(serverTime float64) (Sample, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.outstanding {
		return Sample{}, false
	}
	e.outstanding = false

	s := Estimate(e.t0, serverTime, e.clock.Now())
	e.clock.Adjust(s.Delta)

	e.last = &s
	e.completed++
	return s, true
}

// Outstanding reports whether a request is awaiting its response
func (e *Exchange) Outstanding() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outstanding
}

// Last returns the most recent completed sample
func (e *Exchange) Last() (Sample, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Sample{}, false
	}
	return *e.last, true
}

// Completed returns how many exchanges have adjusted the clock
func (e *Exchange) Completed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}
