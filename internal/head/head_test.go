package head

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"hydrapay.dev/hpd/internal/config"
	"hydrapay.dev/hpd/internal/journal"
	"hydrapay.dev/hpd/internal/node"
	"hydrapay.dev/hpd/internal/state"
	"hydrapay.dev/hpd/internal/types"
)

type fakeKeys struct{ st *state.Store }

func (f fakeKeys) AddOrGetKeyInfo(owner string) (string, types.KeyInfo, error) {
	proxy := "proxy-" + owner
	f.st.PutProxy(owner, types.ProxyInfo{Address: proxy})
	return proxy, types.KeyInfo{}, nil
}

type fakeHeadStore struct {
	mu           sync.Mutex
	heads        map[string]types.Status
	participants map[string][]string
}

func newFakeHeadStore() *fakeHeadStore {
	return &fakeHeadStore{
		heads:        make(map[string]types.Status),
		participants: make(map[string][]string),
	}
}

func (f *fakeHeadStore) InsertHead(name string, status types.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.heads[name]; !ok {
		f.heads[name] = status
	}
	return nil
}

func (f *fakeHeadStore) AddParticipant(headName, proxyAddress string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants[headName] = append(f.participants[headName], proxyAddress)
	return nil
}

type fakeUTxOs struct {
	set types.UTxOSet
	err error
}

func (f fakeUTxOs) QueryUTxOs(address string) (types.UTxOSet, error) {
	return f.set, f.err
}

// fakeConn captures command payloads written to a node API
type fakeConn struct {
	mu       sync.Mutex
	payloads []map[string]interface{}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) sent() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]interface{}(nil), c.payloads...)
}

const fuelMarker = "a654fb60d21c1fed48db2c320aa6df9737ec0204c0ba53b9b94a09fb40e757f3"

func setupService(t *testing.T, utxos fakeUTxOs) (*Service, *state.Store, *fakeConn) {
	cfg, _ := config.LoadConfig("")
	cfg.NodeLogDir = t.TempDir()

	st := state.NewStore()
	keys := fakeKeys{st: st}

	sup := node.NewSupervisor(cfg, keys)
	sup.SetLauncher(func(bin string, args []string, logPath string) (*os.Process, error) {
		return nil, nil
	})

	svc := NewService(st, newFakeHeadStore(), keys, sup, utxos, journal.New(50), fuelMarker)

	conn := &fakeConn{}
	svc.dial = func(url string) (commandConn, error) {
		return conn, nil
	}
	return svc, st, conn
}

func createAliceBob(t *testing.T, svc *Service) {
	_, err := svc.CreateHead(types.HeadCreate{
		Name:         "alice-bob",
		Participants: []string{"addrA", "addrB"},
	})
	if err != nil {
		t.Fatalf("CreateHead failed: %v", err)
	}
}

func TestCreateHeadNoParticipants(t *testing.T) {
	svc, _, _ := setupService(t, fakeUTxOs{})

	_, err := svc.CreateHead(types.HeadCreate{Name: "empty"})
	hpErr, ok := types.AsHydraPayError(err)
	if !ok || hpErr.Tag != types.TagNotEnoughParticipants {
		t.Errorf("Expected NotEnoughParticipants, got %v", err)
	}
}

func TestCreateHeadDuplicate(t *testing.T) {
	svc, _, _ := setupService(t, fakeUTxOs{})
	createAliceBob(t, svc)

	_, err := svc.CreateHead(types.HeadCreate{
		Name:         "alice-bob",
		Participants: []string{"addrA"},
	})
	hpErr, ok := types.AsHydraPayError(err)
	if !ok || hpErr.Tag != types.TagHeadExists {
		t.Fatalf("Expected HeadExists, got %v", err)
	}
	if hpErr.Name != "alice-bob" {
		t.Errorf("Expected error to carry the head name, got %q", hpErr.Name)
	}
}

func TestGetHeadStatus(t *testing.T) {
	svc, _, _ := setupService(t, fakeUTxOs{})

	_, err := svc.GetHeadStatus("missing")
	hpErr, ok := types.AsHydraPayError(err)
	if !ok || hpErr.Tag != types.TagHeadDoesntExist {
		t.Errorf("Expected HeadDoesntExist, got %v", err)
	}

	createAliceBob(t, svc)

	status, err := svc.GetHeadStatus("alice-bob")
	if err != nil {
		t.Fatalf("GetHeadStatus failed: %v", err)
	}
	if status.Running {
		t.Error("Expected running=false without a network")
	}
	if status.Status != types.StatusPending {
		t.Errorf("Expected pending, got %s", status.Status)
	}
}

func TestInitHeadNoNetwork(t *testing.T) {
	svc, _, _ := setupService(t, fakeUTxOs{})
	createAliceBob(t, svc)

	err := svc.InitHead(types.HeadInit{Name: "alice-bob", Participant: "addrA"})
	hpErr, ok := types.AsHydraPayError(err)
	if !ok || hpErr.Tag != types.TagNetworkIsntRunning {
		t.Errorf("Expected NetworkIsntRunning, got %v", err)
	}
}

func TestInitHeadNotAParticipant(t *testing.T) {
	svc, _, _ := setupService(t, fakeUTxOs{})
	createAliceBob(t, svc)

	if _, err := svc.StartNetwork("alice-bob"); err != nil {
		t.Fatalf("StartNetwork failed: %v", err)
	}
	defer svc.StopNetwork("alice-bob")

	err := svc.InitHead(types.HeadInit{Name: "alice-bob", Participant: "addrC"})
	hpErr, ok := types.AsHydraPayError(err)
	if !ok || hpErr.Tag != types.TagNotAParticipant {
		t.Errorf("Expected NotAParticipant, got %v", err)
	}
}

func TestInitHeadSendsCommand(t *testing.T) {
	svc, _, conn := setupService(t, fakeUTxOs{})
	createAliceBob(t, svc)

	if _, err := svc.StartNetwork("alice-bob"); err != nil {
		t.Fatalf("StartNetwork failed: %v", err)
	}
	defer svc.StopNetwork("alice-bob")

	if err := svc.InitHead(types.HeadInit{Name: "alice-bob", Participant: "addrA"}); err != nil {
		t.Fatalf("InitHead failed: %v", err)
	}

	sent := conn.sent()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 command, got %d", len(sent))
	}
	if sent[0]["tag"] != "Init" {
		t.Errorf("Expected Init tag, got %v", sent[0]["tag"])
	}
	if sent[0]["contestationPeriod"] != float64(60) {
		t.Errorf("Expected contestationPeriod 60, got %v", sent[0]["contestationPeriod"])
	}
}

func TestInitHeadDoesNotChangeStatus(t *testing.T) {
	svc, st, _ := setupService(t, fakeUTxOs{})
	createAliceBob(t, svc)

	if _, err := svc.StartNetwork("alice-bob"); err != nil {
		t.Fatalf("StartNetwork failed: %v", err)
	}
	defer svc.StopNetwork("alice-bob")

	if err := svc.InitHead(types.HeadInit{Name: "alice-bob", Participant: "addrA"}); err != nil {
		t.Fatalf("InitHead failed: %v", err)
	}

	rec, _ := st.Head("alice-bob")
	if rec.Status != types.StatusPending {
		t.Errorf("Expected status to stay pending, got %s", rec.Status)
	}
}

func TestCommitToHeadExcludesFuel(t *testing.T) {
	utxos := fakeUTxOs{set: types.UTxOSet{
		"aa#0": {Address: "proxy-addrA", Value: types.TxOutValue{Lovelace: 5000000}, DatumHash: fuelMarker},
		"aa#1": {Address: "proxy-addrA", Value: types.TxOutValue{Lovelace: 3000000}},
	}}
	svc, _, conn := setupService(t, utxos)
	createAliceBob(t, svc)

	if _, err := svc.StartNetwork("alice-bob"); err != nil {
		t.Fatalf("StartNetwork failed: %v", err)
	}
	defer svc.StopNetwork("alice-bob")

	if err := svc.CommitToHead(types.HeadCommit{Name: "alice-bob", Participant: "addrA"}); err != nil {
		t.Fatalf("CommitToHead failed: %v", err)
	}

	sent := conn.sent()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 command, got %d", len(sent))
	}
	if sent[0]["tag"] != "Commit" {
		t.Errorf("Expected Commit tag, got %v", sent[0]["tag"])
	}
	utxo, ok := sent[0]["utxo"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected utxo payload, got %v", sent[0]["utxo"])
	}
	if _, ok := utxo["aa#0"]; ok {
		t.Error("Expected fuel output to be excluded from commit")
	}
	if _, ok := utxo["aa#1"]; !ok {
		t.Error("Expected spendable output in commit")
	}
}

func TestStartNetworkIdempotent(t *testing.T) {
	svc, _, _ := setupService(t, fakeUTxOs{})
	createAliceBob(t, svc)

	first, err := svc.StartNetwork("alice-bob")
	if err != nil {
		t.Fatalf("StartNetwork failed: %v", err)
	}
	defer svc.StopNetwork("alice-bob")

	second, err := svc.StartNetwork("alice-bob")
	if err != nil {
		t.Fatalf("Second StartNetwork failed: %v", err)
	}
	if first != second {
		t.Error("Expected the existing network to be returned")
	}
	if first.NodeCount() != 2 {
		t.Errorf("Expected 2 nodes, got %d", first.NodeCount())
	}
}

func TestStopNetwork(t *testing.T) {
	svc, st, _ := setupService(t, fakeUTxOs{})
	createAliceBob(t, svc)

	if err := svc.StopNetwork("alice-bob"); err == nil {
		t.Error("Expected StopNetwork without a network to fail")
	}

	if _, err := svc.StartNetwork("alice-bob"); err != nil {
		t.Fatalf("StartNetwork failed: %v", err)
	}
	if err := svc.StopNetwork("alice-bob"); err != nil {
		t.Fatalf("StopNetwork failed: %v", err)
	}
	if _, ok := st.Network("alice-bob"); ok {
		t.Error("Expected network to be removed")
	}

	status, err := svc.GetHeadStatus("alice-bob")
	if err != nil {
		t.Fatalf("GetHeadStatus failed: %v", err)
	}
	if status.Running {
		t.Error("Expected running=false after stop")
	}
}

func TestCreateHeadAutoStart(t *testing.T) {
	svc, st, _ := setupService(t, fakeUTxOs{})

	rec, err := svc.CreateHead(types.HeadCreate{
		Name:         "alice-bob",
		Participants: []string{"addrA", "addrB"},
		StartNetwork: true,
	})
	if err != nil {
		t.Fatalf("CreateHead failed: %v", err)
	}
	if rec.Status != types.StatusPending {
		t.Errorf("Expected pending, got %s", rec.Status)
	}

	deadline := time.After(2 * time.Second)
	for {
		if n, ok := st.Network("alice-bob"); ok {
			if n.NodeCount() != 2 {
				t.Errorf("Expected 2 nodes, got %d", n.NodeCount())
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for auto-started network")
		case <-time.After(10 * time.Millisecond):
		}
	}
	svc.StopNetwork("alice-bob")
}

// blockingHeadStore parks InsertHead until released, exposing the window
// between the name reservation and the durable write.
type blockingHeadStore struct {
	*fakeHeadStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingHeadStore) InsertHead(name string, status types.Status) error {
	b.entered <- struct{}{}
	<-b.release
	return b.fakeHeadStore.InsertHead(name, status)
}

func TestCreateHeadConcurrentDuplicate(t *testing.T) {
	svc, _, _ := setupService(t, fakeUTxOs{})
	db := &blockingHeadStore{
		fakeHeadStore: newFakeHeadStore(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	svc.db = db

	errs := make(chan error, 2)
	create := func() {
		_, err := svc.CreateHead(types.HeadCreate{
			Name:         "alice-bob",
			Participants: []string{"addrA", "addrB"},
		})
		errs <- err
	}

	go create()
	<-db.entered // first call is parked inside the durable insert

	go create()
	err := <-errs // only the second call can finish while the first is parked
	hpErr, ok := types.AsHydraPayError(err)
	if !ok || hpErr.Tag != types.TagHeadExists {
		t.Fatalf("Expected HeadExists for the concurrent duplicate, got %v", err)
	}

	close(db.release)
	if err := <-errs; err != nil {
		t.Fatalf("Expected first create to succeed, got %v", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.heads) != 1 {
		t.Errorf("Expected exactly 1 persisted head, got %v", db.heads)
	}
}

type failingHeadStore struct{}

func (failingHeadStore) InsertHead(name string, status types.Status) error {
	return errors.New("disk full")
}

func (failingHeadStore) AddParticipant(headName, proxyAddress string) error { return nil }

func TestCreateHeadReleasesNameOnPersistFailure(t *testing.T) {
	svc, st, _ := setupService(t, fakeUTxOs{})
	svc.db = failingHeadStore{}

	_, err := svc.CreateHead(types.HeadCreate{
		Name:         "alice-bob",
		Participants: []string{"addrA", "addrB"},
	})
	hpErr, ok := types.AsHydraPayError(err)
	if !ok || hpErr.Tag != types.TagHeadCreationFailed {
		t.Fatalf("Expected HeadCreationFailed, got %v", err)
	}
	if _, ok := st.Head("alice-bob"); ok {
		t.Error("Expected failed create to release the name")
	}

	// the name is free again once the store recovers
	svc.db = newFakeHeadStore()
	createAliceBob(t, svc)
}

func TestCreateHeadPersists(t *testing.T) {
	svc, _, _ := setupService(t, fakeUTxOs{})
	db := svc.db.(*fakeHeadStore)

	createAliceBob(t, svc)

	if db.heads["alice-bob"] != types.StatusPending {
		t.Errorf("Expected persisted head record, got %v", db.heads)
	}
	if len(db.participants["alice-bob"]) != 2 {
		t.Errorf("Expected 2 persisted participants, got %v", db.participants["alice-bob"])
	}
}
