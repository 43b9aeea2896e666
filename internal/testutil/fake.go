package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/nodetype"
	"github.com/roach88/crepo/internal/operation"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// Call is one recorded transport call.
type Call struct {
	Method string
	Args   []string
}

// String renders the call as Method(arg, arg).
func (c Call) String() string {
	return c.Method + "(" + strings.Join(c.Args, ", ") + ")"
}

// Fake is an in-memory backend that records every call.
//
// A Fake implements every capability; As exposes it through a Profile so
// capability detection sees only the chosen subset. Tests seed content with
// Seed, inject failures with FailOn and inspect traffic with Calls and
// CallCount.
//
// Thread-safety: all methods are safe for concurrent use.
type Fake struct {
	transport.Lifecycle

	mu               sync.Mutex
	nodes            map[string]*transport.NodeRecord
	binaries         map[string][]byte
	namespaces       map[string]string
	workspaces       []string
	nodeTypes        *nodetype.Registry
	cnd              []string
	locks            map[string]*transport.LockInfo
	policies         map[string][]operation.Policy
	versions         map[string]int
	events           []transport.Event
	languages        []string
	statements       []transport.Statement
	rows             []transport.Row
	permissions      []string
	fetchDepth       int
	autoLastModified bool
	txSnapshot       map[string]*transport.NodeRecord
	saveSnapshot     map[string]*transport.NodeRecord
	txTimeout        time.Duration

	calls    []Call
	failures map[string]error
	nth      map[string]nthFailure
	newID    func() string
}

// NewFake creates a fake holding only a root node of type nt:unstructured
// in the workspace "default".
func NewFake() *Fake {
	f := &Fake{
		nodes:            map[string]*transport.NodeRecord{},
		binaries:         map[string][]byte{},
		namespaces:       map[string]string{},
		workspaces:       []string{"default"},
		nodeTypes:        nodetype.NewRegistry(nodetype.Builtin()),
		locks:            map[string]*transport.LockInfo{},
		policies:         map[string][]operation.Policy{},
		versions:         map[string]int{},
		languages:        []string{transport.LanguageSQL2},
		permissions:      []string{"read", "add_node", "set_property", "remove"},
		fetchDepth:       1,
		autoLastModified: true,
		failures:         map[string]error{},
		nth:              map[string]nthFailure{},
		newID:            NewSequentialIdentifiers().Next,
	}
	f.nodes[itempath.Root] = &transport.NodeRecord{Path: itempath.Root, PrimaryType: "nt:unstructured"}
	return f
}

// Profile selects the capability interfaces a Fake exposes.
type Profile int

const (
	// ProfileReadOnly exposes only transport.Transport.
	ProfileReadOnly Profile = iota
	// ProfileWritable adds Writing.
	ProfileWritable
	// ProfileTransactional adds Writing and Transactional.
	ProfileTransactional
	// ProfileFull exposes every capability except NodeTypeCndManagement.
	ProfileFull
	// ProfileCND exposes Writing and NodeTypeCndManagement.
	ProfileCND
)

// As returns f seen through profile p.
func (f *Fake) As(p Profile) transport.Transport {
	switch p {
	case ProfileWritable:
		return writableFake{f, f}
	case ProfileTransactional:
		return transactionalFake{f, f, f}
	case ProfileFull:
		return fullFake{f, f, f, f, f, f, f, f, f, f, f}
	case ProfileCND:
		return cndFake{f, f, f}
	}
	return readOnlyFake{f}
}

// Capability method sets without the embedded Transport, so profiles can
// combine them without ambiguous selectors.
type (
	writingOps interface {
		StoreNode(ctx context.Context, rec *transport.NodeRecord) error
		StoreProperty(ctx context.Context, nodePath string, prop transport.PropertyRecord) error
		DeleteNode(ctx context.Context, path string) error
		DeleteProperty(ctx context.Context, path string) error
		MoveNode(ctx context.Context, src, dst string) error
		CopyNode(ctx context.Context, src, dst, srcWorkspace string) error
		ReorderChildren(ctx context.Context, parentPath string, order []string) error
		RegisterNamespace(ctx context.Context, prefix, uri string) error
		UnregisterNamespace(ctx context.Context, prefix string) error
		PrepareSave(ctx context.Context) error
		FinishSave(ctx context.Context) error
		RollbackSave(ctx context.Context) error
	}
	transactionalOps interface {
		BeginTransaction(ctx context.Context) error
		CommitTransaction(ctx context.Context) error
		RollbackTransaction(ctx context.Context) error
		SetTransactionTimeout(d time.Duration)
	}
	lockingOps interface {
		Lock(ctx context.Context, path string, deep, sessionScoped bool, timeout time.Duration, owner string) (*transport.LockInfo, error)
		Unlock(ctx context.Context, path, token string) error
		IsLocked(ctx context.Context, path string) (bool, error)
		GetLock(ctx context.Context, path string) (*transport.LockInfo, error)
	}
	versioningOps interface {
		Checkin(ctx context.Context, path string) (string, error)
		Checkout(ctx context.Context, path string) error
		Restore(ctx context.Context, removeExisting bool, versionPath, path string) error
		RemoveVersion(ctx context.Context, versionHistoryPath, versionName string) error
	}
	observationOps interface {
		GetEvents(ctx context.Context, filter transport.EventFilter, after transport.Cursor, limit int) ([]transport.Event, error)
		CursorAt(ctx context.Context, t time.Time) (transport.Cursor, error)
	}
	accessControlOps interface {
		GetSupportedPrivileges(ctx context.Context, path string) ([]string, error)
		GetPolicies(ctx context.Context, path string) ([]operation.Policy, error)
		SetPolicy(ctx context.Context, path string, policy operation.Policy) error
	}
	permissionOps interface {
		GetPermissions(ctx context.Context, path string) ([]string, error)
	}
	queryOps interface {
		SupportedQueryLanguages() []string
		Query(ctx context.Context, stmt transport.Statement) ([]transport.Row, error)
	}
	nodeTypeOps interface {
		RegisterNodeTypes(ctx context.Context, defs []nodetype.Definition, allowUpdate bool) error
		UnregisterNodeTypes(ctx context.Context, names []string) error
	}
	cndOps interface {
		RegisterNodeTypesCnd(ctx context.Context, cnd string, allowUpdate bool) error
	}
	filterOps interface {
		GetNodesFiltered(ctx context.Context, paths []string, nodeTypes []string) (map[string]*transport.NodeRecord, error)
	}
)

type readOnlyFake struct{ transport.Transport }

type writableFake struct {
	transport.Transport
	writingOps
}

type transactionalFake struct {
	transport.Transport
	writingOps
	transactionalOps
}

type fullFake struct {
	transport.Transport
	writingOps
	transactionalOps
	lockingOps
	versioningOps
	observationOps
	accessControlOps
	permissionOps
	queryOps
	nodeTypeOps
	filterOps
}

type cndFake struct {
	transport.Transport
	writingOps
	cndOps
}

// Test configuration.

// Seed stores rec and links it under its parent without recording a call.
// Missing ancestors are created as nt:unstructured.
func (f *Fake) Seed(rec transport.NodeRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := itempath.MustNormalize(rec.Path)
	f.ensureParents(p)
	rec.Path = p
	f.link(p)
	f.nodes[p] = cloneRecord(&rec)
}

// SeedBinary sets the content returned by GetBinaryStream for path.
func (f *Fake) SeedBinary(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binaries[path] = slices.Clone(data)
}

// SetWorkspaces replaces the accessible workspace names.
func (f *Fake) SetWorkspaces(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workspaces = slices.Clone(names)
}

// SetQueryLanguages replaces the languages Query accepts.
func (f *Fake) SetQueryLanguages(langs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.languages = slices.Clone(langs)
}

// SetQueryRows sets the rows every Query returns.
func (f *Fake) SetQueryRows(rows []transport.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
}

// SetPermissions replaces the actions GetPermissions reports.
func (f *Fake) SetPermissions(actions ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permissions = slices.Clone(actions)
}

// AddEvent appends a journal event. Its cursor is its position, from 1.
func (f *Fake) AddEvent(e transport.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.Cursor = transport.Cursor(len(f.events) + 1)
	f.events = append(f.events, e)
}

// FailOn makes every call of method fail with err. A nil err clears it.
func (f *Fake) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// nthFailure fails one future call to a method.
type nthFailure struct {
	remaining int
	err       error
}

// FailOnNth makes the nth call to method from now on fail with err. Other
// calls succeed.
func (f *Fake) FailOnNth(method string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nth[method] = nthFailure{remaining: n, err: err}
}

// Calls returns the recorded calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallCount returns how many times method was called.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded calls.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Statements returns the statements passed to Query.
func (f *Fake) Statements() []transport.Statement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.statements)
}

// Has reports whether a node exists at path.
func (f *Fake) Has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[path]
	return ok
}

// Node returns a copy of the stored record at path, or nil.
func (f *Fake) Node(path string) *transport.NodeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.nodes[path]
	if !ok {
		return nil
	}
	return cloneRecord(rec)
}

// record logs a call and returns the failure injected for it. Callers
// hold f.mu.
func (f *Fake) record(method string, args ...string) error {
	f.calls = append(f.calls, Call{Method: method, Args: args})
	if nf, ok := f.nth[method]; ok {
		nf.remaining--
		if nf.remaining == 0 {
			delete(f.nth, method)
			return nf.err
		}
		f.nth[method] = nf
	}
	return f.failures[method]
}

// Transport.

func (f *Fake) GetRepositoryDescriptors(ctx context.Context) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetRepositoryDescriptors"); err != nil {
		return nil, err
	}
	return map[string][]string{
		transport.DescSpecVersion:    {"2.0"},
		transport.DescRepositoryName: {"fake"},
		transport.DescQueryLanguages: slices.Clone(f.languages),
	}, nil
}

func (f *Fake) GetAccessibleWorkspaceNames(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetAccessibleWorkspaceNames"); err != nil {
		return nil, err
	}
	return slices.Clone(f.workspaces), nil
}

func (f *Fake) Login(ctx context.Context, creds transport.Credentials, workspace string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Login", creds.UserID, workspace); err != nil {
		return "", err
	}
	if err := f.BeginLogin(); err != nil {
		return "", err
	}
	if workspace == "" {
		workspace = f.workspaces[0]
	}
	if !slices.Contains(f.workspaces, workspace) {
		return "", repoerr.At(repoerr.CodeNoSuchWorkspace, "login", workspace, "no such workspace")
	}
	f.CompleteLogin(workspace, creds.UserID)
	return workspace, nil
}

func (f *Fake) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Logout"); err != nil {
		return err
	}
	f.Lifecycle.Logout()
	return nil
}

func (f *Fake) GetNamespaces(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetNamespaces"); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(f.namespaces))
	for k, v := range f.namespaces {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) GetNode(ctx context.Context, path string) (*transport.NodeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetNode", path); err != nil {
		return nil, err
	}
	rec, ok := f.nodes[path]
	if !ok {
		return nil, repoerr.At(repoerr.CodeItemNotFound, "getNode", path, "no node at path")
	}
	return f.withPrefetch(rec, f.fetchDepth), nil
}

func (f *Fake) GetNodes(ctx context.Context, paths []string) (map[string]*transport.NodeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetNodes", paths...); err != nil {
		return nil, err
	}
	out := map[string]*transport.NodeRecord{}
	for _, p := range paths {
		if rec, ok := f.nodes[p]; ok {
			out[p] = cloneRecord(rec)
		}
	}
	return out, nil
}

func (f *Fake) GetNodeByIdentifier(ctx context.Context, id string) (*transport.NodeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetNodeByIdentifier", id); err != nil {
		return nil, err
	}
	for _, rec := range f.nodes {
		if rec.Identifier == id {
			return cloneRecord(rec), nil
		}
	}
	return nil, repoerr.At(repoerr.CodeItemNotFound, "getNodeByIdentifier", id, "no node with identifier")
}

func (f *Fake) GetNodesByIdentifier(ctx context.Context, ids []string) (map[string]*transport.NodeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetNodesByIdentifier", ids...); err != nil {
		return nil, err
	}
	out := map[string]*transport.NodeRecord{}
	for _, rec := range f.nodes {
		if rec.Identifier != "" && slices.Contains(ids, rec.Identifier) {
			out[rec.Identifier] = cloneRecord(rec)
		}
	}
	return out, nil
}

func (f *Fake) GetNodePathForIdentifier(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetNodePathForIdentifier", id); err != nil {
		return "", err
	}
	for p, rec := range f.nodes {
		if rec.Identifier == id {
			return p, nil
		}
	}
	return "", repoerr.At(repoerr.CodeItemNotFound, "getNodePathForIdentifier", id, "no node with identifier")
}

func (f *Fake) GetProperty(ctx context.Context, path string) (*transport.PropertyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetProperty", path); err != nil {
		return nil, err
	}
	parent, name := itempath.Split(path)
	if rec, ok := f.nodes[parent]; ok {
		if prop, ok := rec.Property(name); ok {
			return &prop, nil
		}
	}
	return nil, repoerr.At(repoerr.CodeItemNotFound, "getProperty", path, "no property at path")
}

func (f *Fake) GetBinaryStream(ctx context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetBinaryStream", path); err != nil {
		return nil, err
	}
	data, ok := f.binaries[path]
	if !ok {
		return nil, repoerr.At(repoerr.CodeItemNotFound, "getBinaryStream", path, "no binary at path")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *Fake) GetReferences(ctx context.Context, path, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetReferences", path, name); err != nil {
		return nil, err
	}
	return f.references(path, name, value.Reference), nil
}

func (f *Fake) GetWeakReferences(ctx context.Context, path, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetWeakReferences", path, name); err != nil {
		return nil, err
	}
	return f.references(path, name, value.WeakReference), nil
}

func (f *Fake) GetNodeTypes(ctx context.Context, names []string) ([]nodetype.Definition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetNodeTypes", names...); err != nil {
		return nil, err
	}
	var defs []nodetype.Definition
	if len(names) == 0 {
		builtin := nodetype.Builtin()
		for _, n := range f.nodeTypes.Names() {
			if !builtin.Has(n) {
				def, _ := f.nodeTypes.Get(n)
				defs = append(defs, *def)
			}
		}
		return defs, nil
	}
	for _, n := range names {
		def, err := f.nodeTypes.Get(n)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

func (f *Fake) SetFetchDepth(depth int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchDepth = depth
}

func (f *Fake) FetchDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchDepth
}

func (f *Fake) SetAutoLastModified(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoLastModified = enabled
}

func (f *Fake) AutoLastModified() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autoLastModified
}

// Writing.

func (f *Fake) StoreNode(ctx context.Context, rec *transport.NodeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("StoreNode", rec.Path); err != nil {
		return err
	}
	if _, ok := f.nodes[rec.Path]; ok {
		return repoerr.At(repoerr.CodeItemExists, "storeNode", rec.Path, "node already exists")
	}
	if _, ok := f.nodes[itempath.Parent(rec.Path)]; !ok {
		return repoerr.At(repoerr.CodeItemNotFound, "storeNode", itempath.Parent(rec.Path), "parent node does not exist")
	}
	stored := cloneRecord(rec)
	stored.Children = nil
	if stored.Identifier == "" && slices.Contains(stored.Mixins, "mix:referenceable") {
		stored.Identifier = f.newID()
	}
	f.nodes[rec.Path] = stored
	f.link(rec.Path)
	return nil
}

func (f *Fake) StoreProperty(ctx context.Context, nodePath string, prop transport.PropertyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("StoreProperty", itempath.Child(nodePath, prop.Name)); err != nil {
		return err
	}
	rec, ok := f.nodes[nodePath]
	if !ok {
		return repoerr.At(repoerr.CodeItemNotFound, "storeProperty", nodePath, "no node at path")
	}
	prop = cloneProperty(prop)
	prop.Binaries = nil
	for i := range rec.Properties {
		if rec.Properties[i].Name == prop.Name {
			rec.Properties[i] = prop
			return nil
		}
	}
	rec.Properties = append(rec.Properties, prop)
	return nil
}

func (f *Fake) DeleteNode(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("DeleteNode", path); err != nil {
		return err
	}
	if _, ok := f.nodes[path]; !ok {
		return repoerr.At(repoerr.CodeItemNotFound, "deleteNode", path, "no node at path")
	}
	for p := range f.nodes {
		if itempath.IsSelfOrDescendant(p, path) {
			delete(f.nodes, p)
		}
	}
	f.unlink(path)
	return nil
}

func (f *Fake) DeleteProperty(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("DeleteProperty", path); err != nil {
		return err
	}
	parent, name := itempath.Split(path)
	rec, ok := f.nodes[parent]
	if !ok {
		return repoerr.At(repoerr.CodeItemNotFound, "deleteProperty", path, "no property at path")
	}
	n := len(rec.Properties)
	rec.Properties = slices.DeleteFunc(rec.Properties, func(p transport.PropertyRecord) bool { return p.Name == name })
	if len(rec.Properties) == n {
		return repoerr.At(repoerr.CodeItemNotFound, "deleteProperty", path, "no property at path")
	}
	return nil
}

func (f *Fake) MoveNode(ctx context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("MoveNode", src, dst); err != nil {
		return err
	}
	if _, ok := f.nodes[src]; !ok {
		return repoerr.At(repoerr.CodeItemNotFound, "moveNode", src, "no node at path")
	}
	if _, ok := f.nodes[dst]; ok {
		return repoerr.At(repoerr.CodeItemExists, "moveNode", dst, "destination already exists")
	}
	if _, ok := f.nodes[itempath.Parent(dst)]; !ok {
		return repoerr.At(repoerr.CodeItemNotFound, "moveNode", itempath.Parent(dst), "destination parent does not exist")
	}
	moved := map[string]*transport.NodeRecord{}
	for p, rec := range f.nodes {
		if np, ok := itempath.Rebase(p, src, dst); ok {
			delete(f.nodes, p)
			rec.Path = np
			moved[np] = rec
		}
	}
	for p, rec := range moved {
		f.nodes[p] = rec
	}
	f.unlink(src)
	f.link(dst)
	return nil
}

func (f *Fake) CopyNode(ctx context.Context, src, dst, srcWorkspace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("CopyNode", src, dst, srcWorkspace); err != nil {
		return err
	}
	if _, ok := f.nodes[src]; !ok {
		return repoerr.At(repoerr.CodeItemNotFound, "copyNode", src, "no node at path")
	}
	if _, ok := f.nodes[dst]; ok {
		return repoerr.At(repoerr.CodeItemExists, "copyNode", dst, "destination already exists")
	}
	copies := map[string]*transport.NodeRecord{}
	for p, rec := range f.nodes {
		if np, ok := itempath.Rebase(p, src, dst); ok {
			c := cloneRecord(rec)
			c.Path = np
			if c.Identifier != "" {
				c.Identifier = f.newID()
			}
			copies[np] = c
		}
	}
	for p, rec := range copies {
		f.nodes[p] = rec
	}
	f.link(dst)
	return nil
}

func (f *Fake) ReorderChildren(ctx context.Context, parentPath string, order []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("ReorderChildren", append([]string{parentPath}, order...)...); err != nil {
		return err
	}
	rec, ok := f.nodes[parentPath]
	if !ok {
		return repoerr.At(repoerr.CodeItemNotFound, "reorderChildren", parentPath, "no node at path")
	}
	var reordered []transport.ChildRecord
	for _, name := range order {
		reordered = append(reordered, transport.ChildRecord{Name: name})
	}
	for _, c := range rec.Children {
		if !slices.Contains(order, c.Name) {
			reordered = append(reordered, transport.ChildRecord{Name: c.Name})
		}
	}
	rec.Children = reordered
	return nil
}

func (f *Fake) RegisterNamespace(ctx context.Context, prefix, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("RegisterNamespace", prefix, uri); err != nil {
		return err
	}
	f.namespaces[prefix] = uri
	return nil
}

func (f *Fake) UnregisterNamespace(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("UnregisterNamespace", prefix); err != nil {
		return err
	}
	delete(f.namespaces, prefix)
	return nil
}

func (f *Fake) PrepareSave(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("PrepareSave"); err != nil {
		return err
	}
	f.saveSnapshot = f.snapshot()
	return nil
}

func (f *Fake) FinishSave(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("FinishSave"); err != nil {
		return err
	}
	f.saveSnapshot = nil
	return nil
}

func (f *Fake) RollbackSave(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("RollbackSave"); err != nil {
		return err
	}
	if f.saveSnapshot != nil {
		f.nodes = f.saveSnapshot
		f.saveSnapshot = nil
	}
	return nil
}

// Transactional.

func (f *Fake) BeginTransaction(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("BeginTransaction"); err != nil {
		return err
	}
	f.txSnapshot = f.snapshot()
	return nil
}

func (f *Fake) CommitTransaction(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("CommitTransaction"); err != nil {
		return err
	}
	f.txSnapshot = nil
	return nil
}

func (f *Fake) RollbackTransaction(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("RollbackTransaction"); err != nil {
		return err
	}
	if f.txSnapshot != nil {
		f.nodes = f.txSnapshot
		f.txSnapshot = nil
	}
	return nil
}

func (f *Fake) SetTransactionTimeout(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txTimeout = d
}

// Locking.

func (f *Fake) Lock(ctx context.Context, path string, deep, sessionScoped bool, timeout time.Duration, owner string) (*transport.LockInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("Lock", path, owner); err != nil {
		return nil, err
	}
	if _, ok := f.locks[path]; ok {
		return nil, repoerr.At(repoerr.CodeItemExists, "lock", path, "node is already locked")
	}
	info := &transport.LockInfo{Path: path, Token: "lock-" + path, Owner: owner, Deep: deep, SessionScoped: sessionScoped}
	f.locks[path] = info
	copied := *info
	return &copied, nil
}

func (f *Fake) Unlock(ctx context.Context, path, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("Unlock", path); err != nil {
		return err
	}
	if _, ok := f.locks[path]; !ok {
		return repoerr.At(repoerr.CodeItemNotFound, "unlock", path, "node is not locked")
	}
	delete(f.locks, path)
	return nil
}

func (f *Fake) IsLocked(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("IsLocked", path); err != nil {
		return false, err
	}
	_, ok := f.locks[path]
	return ok, nil
}

func (f *Fake) GetLock(ctx context.Context, path string) (*transport.LockInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetLock", path); err != nil {
		return nil, err
	}
	info, ok := f.locks[path]
	if !ok {
		return nil, repoerr.At(repoerr.CodeItemNotFound, "getLock", path, "node is not locked")
	}
	copied := *info
	return &copied, nil
}

// Versioning.

func (f *Fake) Checkin(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("Checkin", path); err != nil {
		return "", err
	}
	f.versions[path]++
	return fmt.Sprintf("/jcr:system/jcr:versionStorage%s/1.%d", path, f.versions[path]-1), nil
}

func (f *Fake) Checkout(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checked("Checkout", path)
}

func (f *Fake) Restore(ctx context.Context, removeExisting bool, versionPath, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checked("Restore", versionPath, path)
}

func (f *Fake) RemoveVersion(ctx context.Context, versionHistoryPath, versionName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checked("RemoveVersion", versionHistoryPath, versionName)
}

// Observation.

func (f *Fake) GetEvents(ctx context.Context, filter transport.EventFilter, after transport.Cursor, limit int) ([]transport.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetEvents", fmt.Sprint(int64(after))); err != nil {
		return nil, err
	}
	out := []transport.Event{}
	for _, e := range f.events {
		if e.Cursor <= after {
			continue
		}
		if filter.Types != 0 && e.Type&filter.Types == 0 {
			continue
		}
		if filter.ExcludeUserID != "" && e.UserID == filter.ExcludeUserID {
			continue
		}
		if filter.AbsPath != "" {
			if filter.Deep && !itempath.IsSelfOrDescendant(e.Path, filter.AbsPath) {
				continue
			}
			if !filter.Deep && e.Path != filter.AbsPath && itempath.Parent(e.Path) != filter.AbsPath {
				continue
			}
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) CursorAt(ctx context.Context, t time.Time) (transport.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("CursorAt", t.UTC().Format(time.RFC3339)); err != nil {
		return 0, err
	}
	var c transport.Cursor
	for _, e := range f.events {
		if e.Date.Before(t) {
			c = e.Cursor
		}
	}
	return c, nil
}

// AccessControl.

func (f *Fake) GetSupportedPrivileges(ctx context.Context, path string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetSupportedPrivileges", path); err != nil {
		return nil, err
	}
	return []string{"jcr:all", "jcr:read", "jcr:write"}, nil
}

func (f *Fake) GetPolicies(ctx context.Context, path string) ([]operation.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetPolicies", path); err != nil {
		return nil, err
	}
	return slices.Clone(f.policies[path]), nil
}

func (f *Fake) SetPolicy(ctx context.Context, path string, policy operation.Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("SetPolicy", path, policy.Name); err != nil {
		return err
	}
	f.policies[path] = append(f.policies[path], policy)
	return nil
}

// Permission.

func (f *Fake) GetPermissions(ctx context.Context, path string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetPermissions", path); err != nil {
		return nil, err
	}
	return slices.Clone(f.permissions), nil
}

// Query.

func (f *Fake) SupportedQueryLanguages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.languages)
}

func (f *Fake) Query(ctx context.Context, stmt transport.Statement) ([]transport.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("Query", stmt.Language, stmt.Text); err != nil {
		return nil, err
	}
	if !slices.Contains(f.languages, stmt.Language) {
		return nil, repoerr.At(repoerr.CodeUnsupportedOperation, "query", "", "query language %q is not supported", stmt.Language)
	}
	f.statements = append(f.statements, stmt)
	return slices.Clone(f.rows), nil
}

// Node type management.

func (f *Fake) RegisterNodeTypes(ctx context.Context, defs []nodetype.Definition, allowUpdate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	if err := f.checked("RegisterNodeTypes", names...); err != nil {
		return err
	}
	return f.nodeTypes.Register(defs, allowUpdate)
}

func (f *Fake) UnregisterNodeTypes(ctx context.Context, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("UnregisterNodeTypes", names...); err != nil {
		return err
	}
	return f.nodeTypes.Unregister(names)
}

func (f *Fake) RegisterNodeTypesCnd(ctx context.Context, cnd string, allowUpdate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("RegisterNodeTypesCnd", cnd); err != nil {
		return err
	}
	f.cnd = append(f.cnd, cnd)
	return nil
}

// CND returns the texts passed to RegisterNodeTypesCnd.
func (f *Fake) CND() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.cnd)
}

func (f *Fake) GetNodesFiltered(ctx context.Context, paths []string, nodeTypes []string) (map[string]*transport.NodeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checked("GetNodesFiltered", append(slices.Clone(paths), nodeTypes...)...); err != nil {
		return nil, err
	}
	out := map[string]*transport.NodeRecord{}
	for _, p := range paths {
		rec, ok := f.nodes[p]
		if ok && f.nodeTypes.MatchesAny(rec.PrimaryType, rec.Mixins, nodeTypes) {
			out[p] = cloneRecord(rec)
		}
	}
	return out, nil
}

// Internals. Callers hold f.mu.

// checked records the call and fails when injected or not logged in.
func (f *Fake) checked(method string, args ...string) error {
	if err := f.record(method, args...); err != nil {
		return err
	}
	return f.Check(method)
}

func (f *Fake) ensureParents(p string) {
	if p == itempath.Root {
		return
	}
	parent := itempath.Parent(p)
	if _, ok := f.nodes[parent]; ok {
		return
	}
	f.ensureParents(parent)
	f.nodes[parent] = &transport.NodeRecord{Path: parent, PrimaryType: "nt:unstructured"}
	f.link(parent)
}

// link appends p to its parent's child names.
func (f *Fake) link(p string) {
	if p == itempath.Root {
		return
	}
	parent, name := itempath.Split(p)
	rec, ok := f.nodes[parent]
	if !ok || slices.Contains(rec.ChildNames(), name) {
		return
	}
	rec.Children = append(rec.Children, transport.ChildRecord{Name: name})
}

func (f *Fake) unlink(p string) {
	parent, name := itempath.Split(p)
	if rec, ok := f.nodes[parent]; ok {
		rec.Children = slices.DeleteFunc(rec.Children, func(c transport.ChildRecord) bool { return c.Name == name })
	}
}

func (f *Fake) withPrefetch(rec *transport.NodeRecord, depth int) *transport.NodeRecord {
	out := cloneRecord(rec)
	if depth <= 1 {
		return out
	}
	for i, c := range out.Children {
		if child, ok := f.nodes[itempath.Child(rec.Path, c.Name)]; ok {
			out.Children[i].Prefetched = f.withPrefetch(child, depth-1)
		}
	}
	return out
}

func (f *Fake) references(path, name string, typ value.Type) []string {
	target, ok := f.nodes[path]
	out := []string{}
	if !ok || target.Identifier == "" {
		return out
	}
	for p, rec := range f.nodes {
		for _, prop := range rec.Properties {
			if prop.Type != typ || (name != "" && prop.Name != name) {
				continue
			}
			if slices.Contains(prop.Values, target.Identifier) {
				out = append(out, itempath.Child(p, prop.Name))
			}
		}
	}
	sort.Strings(out)
	return out
}

func (f *Fake) snapshot() map[string]*transport.NodeRecord {
	out := make(map[string]*transport.NodeRecord, len(f.nodes))
	for p, rec := range f.nodes {
		out[p] = cloneRecord(rec)
	}
	return out
}

func cloneRecord(rec *transport.NodeRecord) *transport.NodeRecord {
	out := *rec
	out.Mixins = slices.Clone(rec.Mixins)
	out.Properties = make([]transport.PropertyRecord, len(rec.Properties))
	for i, p := range rec.Properties {
		out.Properties[i] = cloneProperty(p)
	}
	out.Children = make([]transport.ChildRecord, len(rec.Children))
	for i, c := range rec.Children {
		out.Children[i] = transport.ChildRecord{Name: c.Name}
	}
	return &out
}

func cloneProperty(p transport.PropertyRecord) transport.PropertyRecord {
	p.Values = slices.Clone(p.Values)
	p.Lengths = slices.Clone(p.Lengths)
	return p
}
