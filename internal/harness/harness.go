package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/crepo/internal/om"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/session"
	"github.com/roach88/crepo/internal/testutil"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// writeMethods are the transport calls a trace reports.
var writeMethods = []string{
	"StoreNode", "StoreProperty", "DeleteNode", "DeleteProperty",
	"MoveNode", "CopyNode", "ReorderChildren",
	"PrepareSave", "FinishSave", "RollbackSave",
	"BeginTransaction", "CommitTransaction", "RollbackTransaction",
	"RegisterNamespace", "UnregisterNamespace",
	"Lock", "Unlock", "SetPolicy", "Query",
}

var profiles = map[string]testutil.Profile{
	"":              testutil.ProfileWritable,
	"read_only":     testutil.ProfileReadOnly,
	"writable":      testutil.ProfileWritable,
	"transactional": testutil.ProfileTransactional,
	"full":          testutil.ProfileFull,
	"cnd":           testutil.ProfileCND,
}

func parseProfile(name string) (testutil.Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return 0, fmt.Errorf("unknown profile %q", name)
	}
	return p, nil
}

// Harness runs the steps of one scenario against one session.
type Harness struct {
	session *session.Session
	fake    *testutil.Fake
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh recording transport seeded with the
// scenario's content. Identifiers come from a sequential generator so
// traces are identical across runs.
//
// Execution flow:
// 1. Seed the transport and log in through the scenario's profile
// 2. Execute steps, recording a trace event and checking expect clauses
// 3. Evaluate assertions against the call log and the session
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	profile, err := parseProfile(scenario.Profile)
	if err != nil {
		return nil, err
	}
	fake := testutil.NewFake()
	ids := testutil.NewSequentialIdentifiers()
	if scenario.Seed != nil {
		recs, err := scenario.Seed.Records("/", ids.Next)
		if err != nil {
			return nil, fmt.Errorf("failed to seed: %w", err)
		}
		for _, rec := range recs {
			fake.Seed(rec)
		}
	}

	s, err := session.Login(ctx, fake.As(profile), transport.Credentials{UserID: "admin"}, "",
		session.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), // Suppress logs in scenarios
		session.WithIdentifiers(ids.Next))
	if err != nil {
		return nil, fmt.Errorf("failed to log in: %w", err)
	}
	fake.ResetCalls()

	h := &Harness{session: s, fake: fake}
	result := NewResult()
	for i, step := range scenario.Steps {
		before := len(fake.Calls())
		out, stepErr := h.execute(ctx, step)

		event := TraceEvent{
			Seq:    i + 1,
			Op:     step.Op,
			Target: step.target(),
			Result: out,
			Writes: writes(fake.Calls()[before:]),
		}
		if stepErr != nil {
			event.Error = errorCode(stepErr)
		}
		result.Trace = append(result.Trace, event)

		if msg := checkExpect(event, step.Expect, stepErr); msg != "" {
			result.AddError(msg)
		}
	}
	result.Calls = fake.Calls()

	actx := &AssertionContext{Session: s, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step and returns its printable output.
func (h *Harness) execute(ctx context.Context, step Step) ([]string, error) {
	s := h.session
	switch step.Op {
	case OpAddNode:
		n, err := s.AddNode(ctx, step.Path, step.Name, step.Type)
		return nodePath(n, err)
	case OpSetProperty:
		return h.setProperty(ctx, step)
	case OpRemove:
		return nil, s.RemoveItem(ctx, step.Path)
	case OpAddMixin:
		return nil, s.AddMixin(ctx, step.Path, step.Type)
	case OpRemoveMixin:
		return nil, s.RemoveMixin(ctx, step.Path, step.Type)
	case OpMove:
		n, err := s.Move(ctx, step.Src, step.Dst)
		return nodePath(n, err)
	case OpCopy:
		n, err := s.Copy(ctx, step.Src, step.Dst)
		return nodePath(n, err)
	case OpOrderBefore:
		return nil, s.OrderBefore(ctx, step.Path, step.Src, step.Dest)
	case OpSave:
		return nil, s.Save(ctx)
	case OpRefresh:
		s.Refresh(step.Keep)
		return nil, nil
	case OpGetNode:
		n, err := s.Node(ctx, step.Path)
		return nodePath(n, err)
	case OpNodeByID:
		n, err := s.NodeByIdentifier(ctx, step.ID)
		return nodePath(n, err)
	case OpGetProperty:
		p, err := s.Property(ctx, step.Path)
		if err != nil {
			return nil, err
		}
		return p.Strings(), nil
	case OpChildren:
		nodes, err := s.Children(ctx, step.Path)
		if err != nil {
			return nil, err
		}
		return paths(nodes), nil
	case OpExists:
		ok, err := s.ItemExists(ctx, step.Path)
		return []string{strconv.FormatBool(ok)}, err
	case OpQuery:
		return h.query(ctx, step)
	case OpRegisterNamespace:
		return nil, s.RegisterNamespace(ctx, step.Prefix, step.URI)
	case OpLock:
		info, err := s.Lock(ctx, step.Path, step.Deep, true, 0)
		if err != nil {
			return nil, err
		}
		return []string{info.Token}, nil
	case OpUnlock:
		info, err := s.GetLock(ctx, step.Path)
		if err != nil {
			return nil, err
		}
		return nil, s.Unlock(ctx, step.Path, info.Token)
	case OpFailOn:
		var err error
		if step.Error != "" {
			err = repoerr.New(repoerr.Code(step.Error), "injected failure")
		}
		h.fake.FailOn(step.Method, err)
		return nil, nil
	}
	return nil, fmt.Errorf("unknown op %q", step.Op)
}

// setProperty writes step.Value. No value removes the property.
func (h *Harness) setProperty(ctx context.Context, step Step) ([]string, error) {
	s := h.session
	if step.Value == nil {
		_, err := s.SetProperty(ctx, step.Path, step.Name, value.Value{})
		return nil, err
	}
	t, vals, err := step.Value.Decode()
	if err != nil {
		return nil, repoerr.At(repoerr.CodeValueFormat, "setProperty", step.Path, "%v", err)
	}
	var p *om.Property
	if step.Value.Multiple {
		p, err = s.SetValues(ctx, step.Path, step.Name, t, vals)
	} else if len(vals) == 1 {
		p, err = s.SetProperty(ctx, step.Path, step.Name, vals[0])
	} else {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "setProperty", step.Path, "expected one value, got %d", len(vals))
	}
	if err != nil || p == nil {
		return nil, err
	}
	return []string{p.Path}, nil
}

// query runs step.Query and returns the path of every row for the chosen
// selector.
func (h *Harness) query(ctx context.Context, step Step) ([]string, error) {
	model, err := step.Query.Model()
	if err != nil {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "query", "", "%v", err)
	}
	bindings, err := step.Query.Bindings()
	if err != nil {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "query", "", "%v", err)
	}
	q, err := h.session.CreateQuery(model)
	if err != nil {
		return nil, err
	}
	for name, v := range bindings {
		if err := q.BindValue(name, v); err != nil {
			return nil, err
		}
	}
	q.SetLimit(step.Query.Limit)
	q.SetOffset(step.Query.Offset)

	res, err := q.Execute(ctx)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, row := range res.Rows() {
		p, err := row.Path(step.Selector)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// target is the path-like argument shown in the trace.
func (s Step) target() string {
	var parts []string
	switch s.Op {
	case OpMove, OpCopy:
		parts = []string{s.Src, s.Dst}
	case OpAddNode, OpSetProperty:
		parts = []string{s.Path, s.Name}
	case OpOrderBefore:
		parts = []string{s.Path, s.Src, s.Dest}
	case OpNodeByID:
		parts = []string{s.ID}
	case OpRegisterNamespace:
		parts = []string{s.Prefix, s.URI}
	case OpFailOn:
		parts = []string{s.Method, s.Error}
	case OpAddMixin, OpRemoveMixin:
		parts = []string{s.Path, s.Type}
	case OpQuery:
		parts = []string{s.Selector}
	default:
		parts = []string{s.Path}
	}
	parts = slices.DeleteFunc(parts, func(p string) bool { return p == "" })
	return strings.Join(parts, " ")
}

func checkExpect(event TraceEvent, expect *Expect, err error) string {
	if expect == nil || expect.Error == "" {
		if err != nil {
			return fmt.Sprintf("step %d (%s): unexpected error: %v", event.Seq, event.Op, err)
		}
	} else if event.Error != expect.Error {
		return fmt.Sprintf("step %d (%s): expected error %s, got %q", event.Seq, event.Op, expect.Error, event.Error)
	}
	if expect != nil && expect.Result != nil && !slices.Equal(expect.Result, event.Result) {
		return fmt.Sprintf("step %d (%s): expected result %v, got %v", event.Seq, event.Op, expect.Result, event.Result)
	}
	return ""
}

func errorCode(err error) string {
	if code := repoerr.CodeOf(err); code != "" {
		return string(code)
	}
	return string(repoerr.CodeRepository)
}

func writes(calls []testutil.Call) []string {
	var out []string
	for _, c := range calls {
		if slices.Contains(writeMethods, c.Method) {
			out = append(out, c.String())
		}
	}
	return out
}

func nodePath(n *om.Node, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	return []string{n.Path}, nil
}

func paths(nodes []*om.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Path
	}
	return out
}
