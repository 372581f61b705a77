package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"testing"

	"nexusallow/internal/domain"
)

var (
	pypiEco = domain.Ecosystem{Key: "pypi", Format: "pypi", RepoName: "pypi-proxy", RemoteURL: "https://pypi.org/"}
	cranEco = domain.Ecosystem{Key: "cran", Format: "r", RepoName: "cran-proxy", RemoteURL: "https://cran.r-project.org/"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRemote implements domain.RemoteState with in-memory state and the same
// read-before-write semantics as the real client.
type fakeRemote struct {
	repos      map[string]bool
	selectors  map[string]string // name -> expression
	privileges map[string]string // name -> bound selector
	roles      map[string][]string

	mutations []string // resource names, in mutation order
	failRepo  string   // repo name whose creation errors
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		repos:      make(map[string]bool),
		selectors:  make(map[string]string),
		privileges: make(map[string]string),
		roles:      make(map[string][]string),
	}
}

func (f *fakeRemote) Ping(ctx context.Context) error     { return nil }
func (f *fakeRemote) TestAuth(ctx context.Context) error { return nil }

func (f *fakeRemote) EnsureProxyRepository(ctx context.Context, eco domain.Ecosystem) (bool, error) {
	if eco.RepoName == f.failRepo {
		return false, &domain.RemoteUnavailableError{Op: "create repository", Err: errors.New("boom")}
	}
	if f.repos[eco.RepoName] {
		return false, nil
	}
	f.repos[eco.RepoName] = true
	f.mutations = append(f.mutations, "repository/"+eco.RepoName)
	return true, nil
}

func (f *fakeRemote) EnsureContentSelector(ctx context.Context, name, description, expression string) (bool, error) {
	if current, ok := f.selectors[name]; ok && current == expression {
		return false, nil
	}
	f.selectors[name] = expression
	f.mutations = append(f.mutations, "selector/"+name)
	return true, nil
}

func (f *fakeRemote) EnsureContentSelectorPrivilege(ctx context.Context, name, description string, eco domain.Ecosystem, selector string) (bool, error) {
	if current, ok := f.privileges[name]; ok && current == selector {
		return false, nil
	}
	f.privileges[name] = selector
	f.mutations = append(f.mutations, "privilege/"+name)
	return true, nil
}

func (f *fakeRemote) EnsureRole(ctx context.Context, id, name, description string, privileges []string) (bool, error) {
	if current, ok := f.roles[id]; ok && sameStringSet(current, privileges) {
		return false, nil
	}
	f.roles[id] = append([]string(nil), privileges...)
	f.mutations = append(f.mutations, "role/"+id)
	return true, nil
}

func (f *fakeRemote) GrantRolePrivileges(ctx context.Context, id string, privileges []string) (bool, error) {
	current, ok := f.roles[id]
	if !ok {
		return false, &domain.ValidationError{Resource: "roles/" + id, StatusCode: http.StatusNotFound, Body: "role does not exist"}
	}
	have := make(map[string]struct{}, len(current))
	for _, p := range current {
		have[p] = struct{}{}
	}
	grew := false
	for _, p := range privileges {
		if _, seen := have[p]; !seen {
			current = append(current, p)
			have[p] = struct{}{}
			grew = true
		}
	}
	if !grew {
		return false, nil
	}
	f.roles[id] = current
	f.mutations = append(f.mutations, "role/"+id)
	return true, nil
}

func sameStringSet(a, b []string) bool {
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func TestApply_ConvergesFromEmpty(t *testing.T) {
	remote := newFakeRemote()
	r := New(remote, nil, testLogger())

	spec := Spec{Ecosystem: pypiEco, Mode: domain.ModeSelected, Allowlist: domain.Allowlist{"numpy", "pandas"}}
	mutations, err := r.Apply(context.Background(), spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mutations == 0 {
		t.Fatal("first pass against empty remote state must mutate")
	}

	if !remote.repos["pypi-proxy"] {
		t.Error("proxy repository missing")
	}
	if _, ok := remote.selectors["pypi-simple"]; !ok {
		t.Error("index selector missing")
	}
	if _, ok := remote.selectors["pypi-allowlist"]; !ok {
		t.Error("allowlist selector missing")
	}
	if got := remote.privileges["pypi-allowlist"]; got != "pypi-allowlist" {
		t.Errorf("privilege bound to %q, want pypi-allowlist", got)
	}
	if !sameStringSet(remote.roles[RoleID], []string{"pypi-allowlist", "pypi-simple"}) {
		t.Errorf("unexpected role privileges: %v", remote.roles[RoleID])
	}
}

func TestApply_SecondPassIsNoOp(t *testing.T) {
	remote := newFakeRemote()
	r := New(remote, nil, testLogger())
	spec := Spec{Ecosystem: pypiEco, Mode: domain.ModeSelected, Allowlist: domain.Allowlist{"numpy", "pandas"}}

	if _, err := r.Apply(context.Background(), spec); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	mutations, err := r.Apply(context.Background(), spec)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if mutations != 0 {
		t.Fatalf("second pass must issue zero mutating calls, got %d (%v)", mutations, remote.mutations)
	}
}

func TestApply_ModeSwitchUpdatesOnlySelector(t *testing.T) {
	remote := newFakeRemote()
	r := New(remote, nil, testLogger())
	list := domain.Allowlist{"numpy", "pandas"}

	if _, err := r.Apply(context.Background(), Spec{Ecosystem: pypiEco, Mode: domain.ModeSelected, Allowlist: list}); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	before := len(remote.mutations)

	mutations, err := r.Apply(context.Background(), Spec{Ecosystem: pypiEco, Mode: domain.ModeAll, Allowlist: list})
	if err != nil {
		t.Fatalf("mode switch apply: %v", err)
	}
	if mutations != 1 {
		t.Fatalf("mode switch must issue exactly one mutating call, got %d", mutations)
	}
	if got := remote.mutations[before]; got != "selector/pypi-allowlist" {
		t.Fatalf("the single mutation must be the allowlist selector, got %s", got)
	}
}

func TestApply_InvalidEntryLeavesRemoteUntouched(t *testing.T) {
	remote := newFakeRemote()
	r := New(remote, nil, testLogger())

	_, err := r.Apply(context.Background(), Spec{
		Ecosystem: pypiEco,
		Mode:      domain.ModeSelected,
		Allowlist: domain.Allowlist{`evil"package`},
	})
	var invalid *domain.InvalidPackageNameError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidPackageNameError, got %v", err)
	}
	if len(remote.mutations) != 0 || len(remote.repos) != 0 {
		t.Fatalf("remote state must be untouched, got mutations %v", remote.mutations)
	}
}

func TestApplyAll_FailureDoesNotBlockSiblings(t *testing.T) {
	remote := newFakeRemote()
	remote.failRepo = "cran-proxy"
	r := New(remote, nil, testLogger())

	specs := []Spec{
		{Ecosystem: cranEco, Mode: domain.ModeSelected, Allowlist: domain.Allowlist{"ggplot2"}},
		{Ecosystem: pypiEco, Mode: domain.ModeSelected, Allowlist: domain.Allowlist{"numpy"}},
	}
	err := r.ApplyAll(context.Background(), specs)
	if err == nil {
		t.Fatal("expected joined error for the failing ecosystem")
	}
	var unavailable *domain.RemoteUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected RemoteUnavailableError in chain, got %v", err)
	}

	// The pypi pass must have completed despite cran failing first.
	if !remote.repos["pypi-proxy"] {
		t.Error("pypi reconciliation should have run to completion")
	}
	if _, ok := remote.selectors["pypi-allowlist"]; !ok {
		t.Error("pypi allowlist selector missing")
	}
}

// recordingRecorder captures run records in memory.
type recordingRecorder struct {
	runs []RunRecord
}

func (r *recordingRecorder) RecordRun(ctx context.Context, run RunRecord) error {
	r.runs = append(r.runs, run)
	return nil
}

func TestApplyAll_RecordsRuns(t *testing.T) {
	remote := newFakeRemote()
	recorder := &recordingRecorder{}
	r := New(remote, recorder, testLogger())

	specs := []Spec{
		{Ecosystem: pypiEco, Mode: domain.ModeSelected, Allowlist: domain.Allowlist{"numpy"}},
		{Ecosystem: cranEco, Mode: domain.ModeAll},
	}
	if err := r.ApplyAll(context.Background(), specs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(recorder.runs) != 2 {
		t.Fatalf("expected 2 run records, got %d", len(recorder.runs))
	}
	first := recorder.runs[0]
	if first.Ecosystem != "pypi" || first.Packages != 1 || first.Err != nil {
		t.Errorf("unexpected first record: %+v", first)
	}
	if first.Mutations == 0 {
		t.Error("first pass record should report mutations")
	}
	if first.Expression == "" {
		t.Error("record should carry the compiled expression")
	}
}

func TestApplyAll_RecordsInvalidNameFailure(t *testing.T) {
	remote := newFakeRemote()
	recorder := &recordingRecorder{}
	r := New(remote, recorder, testLogger())

	specs := []Spec{
		{Ecosystem: pypiEco, Mode: domain.ModeSelected, Allowlist: domain.Allowlist{`evil"package`}},
	}
	if err := r.ApplyAll(context.Background(), specs); err == nil {
		t.Fatal("expected error for invalid allowlist entry")
	}

	if len(recorder.runs) != 1 {
		t.Fatalf("expected 1 run record, got %d", len(recorder.runs))
	}
	run := recorder.runs[0]
	var invalid *domain.InvalidPackageNameError
	if !errors.As(run.Err, &invalid) {
		t.Fatalf("record should carry the build error, got %v", run.Err)
	}
	if run.Expression != "" {
		t.Errorf("no expression must be recorded for a failed build, got %q", run.Expression)
	}
	if run.Mutations != 0 {
		t.Errorf("failed build must record zero mutations, got %d", run.Mutations)
	}
}
