package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/alfredjeanlab/conntree/internal/crypto"
	"github.com/alfredjeanlab/conntree/internal/model"
	"github.com/alfredjeanlab/conntree/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

func newTestStore(t *testing.T, opts Options) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	s := New(db, opts)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }
	return s, mock
}

// capture records the value it is matched against.
type capture struct{ dst *driver.Value }

func (c capture) Match(v driver.Value) bool {
	*c.dst = v
	return true
}

// captureRow returns sqlmock arguments that record one INSERT into row.
func captureRow(row []driver.Value) []driver.Value {
	args := make([]driver.Value, len(row))
	for i := range row {
		args[i] = capture{dst: &row[i]}
	}
	return args
}

const selectRoot = "SELECT Name, Export, Protected, ConfVersion, EncryptionEngine, BlockCipherMode, KdfIterations FROM tblRoot"

// expectSave sets up a successful save transaction with n tblCons rows and
// returns the slices the inserted values are recorded into.
func expectSave(mock sqlmock.Sqlmock, n int, marker *driver.Value, deleted ...string) [][]driver.Value {
	return expectSaveWith(mock, n, sqlmock.AnyArg(), capture{dst: marker}, deleted...)
}

// expectSaveWith is expectSave with a matcher for the KdfIterations column.
func expectSaveWith(mock sqlmock.Sqlmock, n int, iterations, marker driver.Value, deleted ...string) [][]driver.Value {
	rows := make([][]driver.Value, n)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM tblRoot").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tblRoot").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), marker, "3.2", "AES", "GCM", iterations).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, id := range deleted {
		mock.ExpectExec("DELETE FROM tblCons WHERE ConstantID").WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	for i := range rows {
		rows[i] = make([]driver.Value, len(consColumns))
		mock.ExpectExec("INSERT INTO tblCons").WithArgs(captureRow(rows[i])...).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec("DELETE FROM tblUpdate").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tblUpdate").WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	return rows
}

var rootColumns = []string{"Name", "Export", "Protected", "ConfVersion", "EncryptionEngine", "BlockCipherMode", "KdfIterations"}

func rootRows(protected, version string) *sqlmock.Rows {
	return rootRowsWith(protected, version, 1000)
}

func rootRowsWith(protected, version string, iterations int) *sqlmock.Rows {
	return sqlmock.NewRows(rootColumns).
		AddRow("Connections", false, protected, version, "AES", "GCM", int64(iterations))
}

func consRows(rows [][]driver.Value) *sqlmock.Rows {
	out := sqlmock.NewRows(consColumns)
	for _, r := range rows {
		out.AddRow(r...)
	}
	return out
}

// plainRow builds a tblCons row with NULL properties and cleared flags.
func plainRow(id string, pos int, parent, typ, name string) []driver.Value {
	row := []driver.Value{id, int64(pos), parent, typ, name, nil}
	for range properties {
		row = append(row, nil)
	}
	for range inheritProperties {
		row = append(row, false)
	}
	return row
}

func defaultMarker(t *testing.T) string {
	t.Helper()
	m, err := crypto.NewMarker(crypto.DefaultProvider(), crypto.DefaultPassword, false)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func sampleTree(t *testing.T) *model.Tree {
	t.Helper()
	root := model.NewRoot("Connections", model.RootConnections)
	folder := model.NewContainer("Servers")
	folder.Props.Username = "admin"
	folder.Favorite = true
	web := model.NewConnection("web01")
	web.Props.Hostname = "web01.example.com"
	web.Props.Port = 2222
	web.Props.Password = "s3cret"
	web.Props.UseCredSsp = false
	web.Inherit.Username = true
	other := model.NewConnection("jump")
	other.LinkedID = web.ID
	for _, step := range []struct{ parent, child *model.Node }{
		{root, folder}, {folder, web}, {root, other},
	} {
		if err := step.parent.AddChild(step.child); err != nil {
			t.Fatal(err)
		}
	}
	tree := model.NewTree()
	if err := tree.AddRoot(root); err != nil {
		t.Fatal(err)
	}
	return tree
}

func TestColumns(t *testing.T) {
	if got, want := len(consColumns), len(fixedColumns)+len(properties)+len(inheritProperties); got != want {
		t.Fatalf("len(consColumns) = %d, want %d", got, want)
	}
	for _, c := range consColumns {
		if c == "Favorite" || c == "Expanded" || c == "Connected" {
			t.Errorf("local-only column %q is stored", c)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, mock := newTestStore(t, Options{})
	ctx := context.Background()
	tree := sampleTree(t)

	var marker driver.Value
	saved := expectSave(mock, 3, &marker)
	if err := s.Save(ctx, tree); err != nil {
		t.Fatalf("Save: %v", err)
	}
	for i, n := range tree.ConnectionsRoot().Descendants() {
		if saved[i][0] != n.ID {
			t.Errorf("row %d ConstantID = %v, want %s", i, saved[i][0], n.ID)
		}
		if saved[i][1] != int64(i) {
			t.Errorf("row %d PositionID = %v, want %d", i, saved[i][1], i)
		}
	}
	if saved[0][2] != rootID || saved[1][2] != saved[0][0] {
		t.Errorf("ParentIDs = %v, %v", saved[0][2], saved[1][2])
	}

	mock.ExpectQuery(selectRoot).
		WillReturnRows(rootRows(marker.(string), "3.2"))
	mock.ExpectQuery("SELECT .+ FROM tblCons ORDER BY PositionID").WillReturnRows(consRows(saved))

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := tree.ConnectionsRoot().Descendants()
	have := got.ConnectionsRoot().Descendants()
	if len(have) != len(want) {
		t.Fatalf("loaded %d nodes, want %d", len(have), len(want))
	}
	for i := range want {
		w, h := want[i], have[i]
		if h.ID != w.ID || h.Name != w.Name || h.Kind() != w.Kind() || h.LinkedID != w.LinkedID {
			t.Errorf("node %d = %s/%s/%s, want %s/%s/%s", i, h.ID, h.Name, h.Kind(), w.ID, w.Name, w.Kind())
		}
		if !reflect.DeepEqual(h.Props, w.Props) {
			t.Errorf("node %s properties differ:\n got %+v\nwant %+v", w.Name, h.Props, w.Props)
		}
		if h.Inherit != w.Inherit {
			t.Errorf("node %s inheritance flags differ", w.Name)
		}
		if (h.Parent().IsRoot()) != (w.Parent().IsRoot()) {
			t.Errorf("node %s parent mismatch", w.Name)
		}
	}
	if have[0].Favorite {
		t.Error("Favorite should not survive a database round trip")
	}
	if got.ConnectionsRoot().Version() != "3.2" {
		t.Errorf("version = %q", got.ConnectionsRoot().Version())
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	s, mock := newTestStore(t, Options{})
	tree := model.NewTree()
	root := model.NewRoot("Connections", model.RootConnections)
	if err := tree.AddRoot(root); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a", "b"} {
		if err := root.AddChild(model.NewConnection(name)); err != nil {
			t.Fatal(err)
		}
	}

	var m1, m2 driver.Value
	first := expectSave(mock, 2, &m1)
	second := expectSave(mock, 2, &m2)
	for range 2 {
		if err := s.Save(context.Background(), tree); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("saving an unchanged tree twice produced different rows")
	}
}

func protectedTree(t *testing.T, master string) *model.Tree {
	t.Helper()
	tree := sampleTree(t)
	tree.ConnectionsRoot().SetPassword(master)
	return tree
}

func promptWith(password string) crypto.Prompt {
	return func(context.Context) (string, bool) { return password, true }
}

func TestSaveIsIdempotentWithPassword(t *testing.T) {
	s, mock := newTestStore(t, Options{Auth: crypto.NewAuthenticator(crypto.DefaultProvider(), promptWith("master"), nil)})
	ctx := context.Background()
	tree := protectedTree(t, "master")

	var m1, m2, m3 driver.Value
	first := expectSave(mock, 3, &m1)
	second := expectSave(mock, 3, &m2)
	for range 2 {
		if err := s.Save(ctx, tree); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("saving an unchanged protected tree twice produced different rows")
	}
	if m1 != m2 {
		t.Error("the protected marker was sealed again")
	}

	mock.ExpectQuery(selectRoot).WillReturnRows(rootRows(m1.(string), "3.2"))
	mock.ExpectQuery("SELECT .+ FROM tblCons ORDER BY PositionID").WillReturnRows(consRows(first))
	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	third := expectSave(mock, 3, &m3)
	if err := s.Save(ctx, loaded); err != nil {
		t.Fatalf("Save after Load: %v", err)
	}
	if !reflect.DeepEqual(first, third) || m1 != m3 {
		t.Error("saving a freshly loaded tree changed the stored ciphertext")
	}

	web := loaded.ConnectionsRoot().Descendants()[1]
	web.Props.Password = "rotated"
	fourth := expectSave(mock, 3, new(driver.Value))
	if err := s.Save(ctx, loaded); err != nil {
		t.Fatalf("Save: %v", err)
	}
	pw := passwordColumn(t)
	if reflect.DeepEqual(first[1][pw], fourth[1][pw]) {
		t.Error("a changed password kept its old ciphertext")
	}
	if !reflect.DeepEqual(first[0], fourth[0]) {
		t.Error("an unchanged row was rewritten")
	}
}

// passwordColumn returns the index of the Password column in consColumns.
func passwordColumn(t *testing.T) int {
	t.Helper()
	for i, c := range consColumns {
		if c == "Password" {
			return i
		}
	}
	t.Fatal("no Password column")
	return -1
}

func TestSaveKeepsRowsItDidNotLoad(t *testing.T) {
	s, mock := newTestStore(t, Options{})
	ctx := context.Background()
	mock.ExpectQuery(selectRoot).WillReturnRows(rootRows(defaultMarker(t), "3.2"))
	mock.ExpectQuery("SELECT .+ FROM tblCons ORDER BY PositionID").WillReturnRows(consRows([][]driver.Value{
		plainRow("c1", 0, "0", "Connection", "kept"),
		plainRow("p1", 1, "0", "PuttySession", "imported"),
		plainRow("c2", 2, "0", "Connection", "removed"),
	}))
	tree, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tree.Delete(tree.FindByID("c2"))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM tblRoot").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tblRoot").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM tblCons WHERE ConstantID").WithArgs("c2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	row := make([]driver.Value, len(consColumns))
	mock.ExpectExec(`INSERT INTO tblCons .+ ON CONFLICT \(ConstantID\) DO UPDATE SET`).
		WithArgs(captureRow(row)...).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM tblUpdate").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tblUpdate").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.Save(ctx, tree); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if row[0] != "c1" {
		t.Errorf("upserted %v, want c1", row[0])
	}
	want := map[string]struct{}{"c1": {}, "p1": {}}
	if got := s.LoadedIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("LoadedIDs = %v, want %v", got, want)
	}
	if got := s.DeletedSinceLoad(tree); len(got) != 0 {
		t.Errorf("DeletedSinceLoad after save = %v, want none", got)
	}
}

func TestLoadUsesStoredCipherSettings(t *testing.T) {
	ctx := context.Background()
	writer, wmock := newTestStore(t, Options{})
	var marker driver.Value
	saved := expectSaveWith(wmock, 3, int64(1000), capture{dst: &marker})
	if err := writer.Save(ctx, protectedTree(t, "master")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	slower, err := crypto.NewProvider(crypto.EngineAES, crypto.ModeGCM, 2000)
	if err != nil {
		t.Fatal(err)
	}
	reader, rmock := newTestStore(t, Options{
		Provider: slower,
		Auth:     crypto.NewAuthenticator(slower, promptWith("master"), nil),
	})
	rmock.ExpectQuery(selectRoot).WillReturnRows(rootRowsWith(marker.(string), "3.2", 1000))
	rmock.ExpectQuery("SELECT .+ FROM tblCons ORDER BY PositionID").WillReturnRows(consRows(saved))

	tree, err := reader.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pw := tree.ConnectionsRoot().Descendants()[1].Props.Password; pw != "s3cret" {
		t.Errorf("Password = %q, want s3cret", pw)
	}
	if got := tree.ConnectionsRoot().Password(); got != "master" {
		t.Errorf("master password = %q", got)
	}

	// The next save is sealed with the configured settings and records them.
	expectSaveWith(rmock, 3, int64(2000), sqlmock.AnyArg())
	if err := reader.Save(ctx, tree); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestLoadRejectsUnknownCipherSettings(t *testing.T) {
	s, mock := newTestStore(t, Options{})
	mock.ExpectQuery(selectRoot).WillReturnRows(sqlmock.NewRows(rootColumns).
		AddRow("Connections", false, defaultMarker(t), "3.2", "Serpent", "GCM", int64(1000)))

	_, err := s.Load(context.Background())
	if !errors.Is(err, store.ErrParseFailed) {
		t.Fatalf("expected ErrParseFailed, got %v", err)
	}
}

func TestSaveRejectsEmptyOverwrite(t *testing.T) {
	s, mock := newTestStore(t, Options{})
	tree := model.NewTree()
	if err := tree.AddRoot(model.NewRoot("Connections", model.RootConnections)); err != nil {
		t.Fatal(err)
	}
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM tblCons").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	err := s.Save(context.Background(), tree)
	if !errors.Is(err, store.ErrDestructiveOverwriteRejected) {
		t.Fatalf("expected ErrDestructiveOverwriteRejected, got %v", err)
	}
}

func TestSaveEmptyTreeOverEmptyTable(t *testing.T) {
	s, mock := newTestStore(t, Options{})
	tree := model.NewTree()
	if err := tree.AddRoot(model.NewRoot("Connections", model.RootConnections)); err != nil {
		t.Fatal(err)
	}
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM tblCons").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	var marker driver.Value
	expectSave(mock, 0, &marker)

	if err := s.Save(context.Background(), tree); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestSaveRollsBackOnFailure(t *testing.T) {
	s, mock := newTestStore(t, Options{})
	diskFull := errors.New("disk full")
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM tblRoot").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tblRoot").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tblCons").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tblCons").WillReturnError(diskFull)
	mock.ExpectRollback()

	err := s.Save(context.Background(), sampleTree(t))
	if !errors.Is(err, store.ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", err)
	}
	if !errors.Is(err, diskFull) {
		t.Fatalf("expected the cause to be kept, got %v", err)
	}
}

func TestSaveReadOnly(t *testing.T) {
	s, _ := newTestStore(t, Options{ReadOnly: true})
	if err := s.Save(context.Background(), sampleTree(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestLoadFirstRunBootstrapsAndUpgrades(t *testing.T) {
	s, mock := newTestStore(t, Options{})
	marker := defaultMarker(t)

	mock.ExpectQuery(selectRoot).
		WillReturnRows(sqlmock.NewRows(rootColumns))
	mock.ExpectExec("INSERT INTO tblRoot").
		WithArgs("Connections", false, sqlmock.AnyArg(), "3.0", "AES", "GCM", int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(selectRoot).
		WillReturnRows(rootRows(marker, "3.0"))

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tblExternalTools").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE tblRoot SET ConfVersion").WithArgs("3.1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	for range 7 {
		mock.ExpectExec("ALTER TABLE tblCons ALTER COLUMN").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("UPDATE tblRoot SET ConfVersion").WithArgs("3.2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT .+ FROM tblCons ORDER BY PositionID").WillReturnRows(sqlmock.NewRows(consColumns))

	tree, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tree.NodeCount() != 0 {
		t.Errorf("NodeCount = %d, want 0", tree.NodeCount())
	}
	if v := tree.ConnectionsRoot().Version(); v != "3.2" {
		t.Errorf("version = %q, want 3.2", v)
	}
}

func TestLoadUpgradeFailureStops(t *testing.T) {
	s, mock := newTestStore(t, Options{})
	mock.ExpectQuery(selectRoot).
		WillReturnRows(rootRows(defaultMarker(t), "3.1"))
	mock.ExpectBegin()
	mock.ExpectExec("ALTER TABLE tblCons ALTER COLUMN").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	if _, err := s.Load(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
}

func TestLoadNewerVersionUnsupported(t *testing.T) {
	s, mock := newTestStore(t, Options{})
	mock.ExpectQuery(selectRoot).
		WillReturnRows(rootRows(defaultMarker(t), "3.3"))

	_, err := s.Load(context.Background())
	if !errors.Is(err, store.ErrVersionUnsupported) {
		t.Fatalf("expected ErrVersionUnsupported, got %v", err)
	}
}

func TestLoadSkipsUnknownTypesAndOrphans(t *testing.T) {
	s, mock := newTestStore(t, Options{})
	mock.ExpectQuery(selectRoot).
		WillReturnRows(rootRows(defaultMarker(t), "3.2"))
	mock.ExpectQuery("SELECT .+ FROM tblCons ORDER BY PositionID").WillReturnRows(consRows([][]driver.Value{
		plainRow("f1", 0, "0", "Container", "folder"),
		plainRow("c1", 1, "f1", "Connection", "inside"),
		plainRow("p1", 2, "0", "PuttySession", "imported"),
		plainRow("c2", 3, "gone", "Connection", "orphan"),
	}))

	tree, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tree.NodeCount() != 3 {
		t.Fatalf("NodeCount = %d, want 3", tree.NodeCount())
	}
	if p := tree.FindByID("c1").Parent(); p.ID != "f1" {
		t.Errorf("c1 parent = %s, want f1", p.ID)
	}
	if p := tree.FindByID("c2").Parent(); !p.IsRoot() {
		t.Errorf("orphan should be placed under the root, got %s", p.ID)
	}
	if n := tree.FindByID("c1"); n.Props.Protocol != model.ProtocolRDP {
		t.Errorf("NULL Protocol should keep the default, got %q", n.Props.Protocol)
	}
	if ids := s.LoadedIDs(); len(ids) != 4 {
		t.Errorf("LoadedIDs = %v, want 4 entries", ids)
	}

	tree.Delete(tree.FindByID("c2"))
	if got := s.DeletedSinceLoad(tree); !reflect.DeepEqual(got, []string{"c2"}) {
		t.Errorf("DeletedSinceLoad = %v, want [c2]", got)
	}
}

func TestLastUpdate(t *testing.T) {
	s, mock := newTestStore(t, Options{})
	stamp := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT LastUpdate FROM tblUpdate").
		WillReturnRows(sqlmock.NewRows([]string{"LastUpdate"}).AddRow(stamp))
	mock.ExpectQuery("SELECT LastUpdate FROM tblUpdate").
		WillReturnRows(sqlmock.NewRows([]string{"LastUpdate"}))

	got, err := s.LastUpdate(context.Background())
	if err != nil || !got.Equal(stamp) {
		t.Fatalf("LastUpdate = %v, %v", got, err)
	}
	got, err = s.LastUpdate(context.Background())
	if err != nil || !got.IsZero() {
		t.Fatalf("LastUpdate on empty table = %v, %v", got, err)
	}
}

func TestNullString(t *testing.T) {
	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("hello"); !ns.Valid || ns.String != "hello" {
		t.Errorf("nullString(\"hello\") = %v", ns)
	}
}
