package diagnostics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ashdown-av/viewlink-core/internal/conn"
	"github.com/ashdown-av/viewlink-core/internal/protocol"
)

// defaultCheckTimeout bounds each individual check.
const defaultCheckTimeout = 5 * time.Second

// Check names, in execution order.
const (
	CheckAddress   = "address"
	CheckResolve   = "resolve"
	CheckPort      = "port"
	CheckHandshake = "handshake"
)

// Status is the outcome of one check.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"

	// StatusSkip marks a check whose prerequisite failed, e.g. the
	// handshake when the port never opened.
	StatusSkip Status = "skip"
)

// CheckResult is the outcome of a single diagnostic check.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration_ms"`
}

// Report holds the ordered results of one probe run.
type Report struct {
	DeviceID string        `json:"device_id"`
	Address  string        `json:"address"`
	RanAt    time.Time     `json:"ran_at"`
	Checks   []CheckResult `json:"checks"`
}

// Healthy reports whether every executed check passed.
func (r Report) Healthy() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

// Config holds probe settings.
type Config struct {
	// CheckTimeout bounds each individual check. Default: 5s.
	CheckTimeout time.Duration

	// Digester computes the authentication digest during the handshake
	// check. Nil selects the protocol default.
	Digester protocol.Digester

	// Dialect names the command dialect used to build the handshake
	// query. Empty selects "generic".
	Dialect string
}

// Probe runs ordered connectivity checks against one device endpoint.
//
// Thread Safety: a Probe is stateless between runs; concurrent Run calls
// are safe but open independent connections.
type Probe struct {
	endpoint conn.Endpoint
	cfg      Config
	dialer   conn.Dialer
	resolver *net.Resolver

	now func() time.Time
}

// NewProbe creates a probe for the given endpoint.
func NewProbe(endpoint conn.Endpoint, cfg Config) *Probe {
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = defaultCheckTimeout
	}
	if cfg.Dialect == "" {
		cfg.Dialect = "generic"
	}
	return &Probe{
		endpoint: endpoint,
		cfg:      cfg,
		dialer:   &net.Dialer{},
		resolver: net.DefaultResolver,
		now:      time.Now,
	}
}

// SetDialer replaces the transport dialer used by the port and handshake
// checks.
func (p *Probe) SetDialer(d conn.Dialer) {
	if d != nil {
		p.dialer = d
	}
}

// Run executes all checks in order and returns the full report. It never
// returns early: a failed check marks dependent checks as skipped rather
// than aborting the run, so the report always has one entry per check.
func (p *Probe) Run(ctx context.Context) Report {
	report := Report{
		DeviceID: p.endpoint.ID,
		Address:  p.endpoint.Addr(),
		RanAt:    p.now(),
	}

	addrOK := p.runCheck(ctx, &report, CheckAddress, p.checkAddress)

	if !addrOK {
		report.Checks = append(report.Checks,
			skipped(CheckResolve, "address invalid"),
			skipped(CheckPort, "address invalid"),
			skipped(CheckHandshake, "address invalid"),
		)
		return report
	}

	p.runCheck(ctx, &report, CheckResolve, p.checkResolve)

	// Resolution failure is not fatal for the remaining checks: the
	// host may be a literal IP the resolver refuses, and the dial will
	// settle the question either way.
	portOK := p.runCheck(ctx, &report, CheckPort, p.checkPort)
	if !portOK {
		report.Checks = append(report.Checks, skipped(CheckHandshake, "port closed"))
		return report
	}

	p.runCheck(ctx, &report, CheckHandshake, p.checkHandshake)
	return report
}

// runCheck executes one check under its own timeout and appends the
// result. Returns true when the check passed.
func (p *Probe) runCheck(ctx context.Context, report *Report, name string, fn func(ctx context.Context) error) bool {
	checkCtx, cancel := context.WithTimeout(ctx, p.cfg.CheckTimeout)
	defer cancel()

	start := p.now()
	err := fn(checkCtx)
	elapsed := p.now().Sub(start)

	result := CheckResult{Name: name, Status: StatusPass, Message: "ok", Duration: elapsed}
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
	}
	report.Checks = append(report.Checks, result)
	return err == nil
}

func skipped(name, reason string) CheckResult {
	return CheckResult{Name: name, Status: StatusSkip, Message: reason}
}

// checkAddress validates the endpoint's address shape without touching
// the network.
func (p *Probe) checkAddress(context.Context) error {
	host := p.endpoint.Host
	if host == "" {
		return fmt.Errorf("host is empty")
	}
	if strings.ContainsAny(host, " \t") {
		return fmt.Errorf("host %q contains whitespace", host)
	}
	if p.endpoint.Port < 1 || p.endpoint.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", p.endpoint.Port)
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	// Hostname: each label must be non-empty and reasonably shaped.
	for _, label := range strings.Split(host, ".") {
		if label == "" {
			return fmt.Errorf("hostname %q has an empty label", host)
		}
	}
	return nil
}

// checkResolve confirms the host resolves to at least one address. A
// literal IP passes without a lookup.
func (p *Probe) checkResolve(ctx context.Context) error {
	if net.ParseIP(p.endpoint.Host) != nil {
		return nil
	}
	addrs, err := p.resolver.LookupHost(ctx, p.endpoint.Host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", p.endpoint.Host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve %s: no addresses", p.endpoint.Host)
	}
	return nil
}

// checkPort attempts a plain TCP connect and closes immediately.
func (p *Probe) checkPort(ctx context.Context) error {
	c, err := p.dialer.DialContext(ctx, "tcp", p.endpoint.Addr())
	if err != nil {
		return fmt.Errorf("connect %s: %w", p.endpoint.Addr(), err)
	}
	c.Close()
	return nil
}

// checkHandshake opens a fresh connection, completes the greeting (and
// digest, when demanded), and issues one harmless power query. Any
// well-formed response, including a device rejection code, passes: the
// check proves the protocol is spoken, not that the device is happy.
func (p *Probe) checkHandshake(ctx context.Context) error {
	c, err := p.dialer.DialContext(ctx, "tcp", p.endpoint.Addr())
	if err != nil {
		return fmt.Errorf("connect %s: %w", p.endpoint.Addr(), err)
	}
	defer c.Close()

	deadline := p.now().Add(p.cfg.CheckTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	reader := bufio.NewReader(c)
	line, err := reader.ReadString('\r')
	if err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	greeting, err := protocol.ParseGreeting([]byte(line))
	if err != nil {
		return err
	}

	dialect, err := protocol.NewDialect(p.cfg.Dialect, p.endpoint.Class)
	if err != nil {
		return err
	}
	query := dialect.PowerQuery()

	frame, err := protocol.Encode(query)
	if err != nil {
		return err
	}
	if prefix := protocol.AuthPrefix(p.cfg.Digester, greeting, p.endpoint.Secret); prefix != nil {
		frame = append(prefix, frame...)
	}
	if _, err := c.Write(frame); err != nil {
		return fmt.Errorf("write query: %w", err)
	}

	line, err = reader.ReadString('\r')
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if strings.HasPrefix(line, "VLINK ERRA") {
		return fmt.Errorf("authentication rejected")
	}
	if _, err := protocol.Decode([]byte(line)); err != nil {
		var respErr *protocol.ResponseError
		if errors.As(err, &respErr) {
			return nil
		}
		return err
	}
	return nil
}
