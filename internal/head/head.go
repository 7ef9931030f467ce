// Package head implements the lifecycle operations of the control plane:
// creating a head, starting and stopping its network, sending Init and
// Commit commands to a participant's node, and reporting status. Every
// public operation returns either a success value or one tagged
// HydraPayError; nothing is thrown past this boundary.
package head

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"hydrapay.dev/hpd/internal/journal"
	"hydrapay.dev/hpd/internal/monitor"
	"hydrapay.dev/hpd/internal/node"
	"hydrapay.dev/hpd/internal/state"
	"hydrapay.dev/hpd/internal/types"
)

// contestationPeriod is the fixed Init parameter sent to the node, seconds.
const contestationPeriod = 60

// KeyProvider resolves or creates proxy key material for an owner address.
type KeyProvider interface {
	AddOrGetKeyInfo(owner string) (string, types.KeyInfo, error)
}

// HeadStore is the durable persistence the orchestrator needs: inserts of
// head and participant rows. Status updates are persisted by the monitor.
type HeadStore interface {
	InsertHead(name string, status types.Status) error
	AddParticipant(headName, proxyAddress string) error
}

// UTxOSource queries spendable outputs at an address.
type UTxOSource interface {
	QueryUTxOs(address string) (types.UTxOSet, error)
}

// commandConn is the short-lived connection used for one Init or Commit send.
type commandConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// dialFunc opens a command connection to a node API url. Injectable for tests.
type dialFunc func(url string) (commandConn, error)

func defaultDial(url string) (commandConn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

// Service composes the state store, supervisor, registry, and monitor into
// the public lifecycle operations.
type Service struct {
	state      *state.Store
	db         HeadStore
	keys       KeyProvider
	supervisor *node.Supervisor
	utxos      UTxOSource
	journal    *journal.Journal
	fuelMarker string
	dial       dialFunc

	// serializes network starts so concurrent requests for one head
	// cannot both launch
	startMu sync.Mutex
}

// NewService creates the lifecycle orchestrator.
func NewService(st *state.Store, db HeadStore, keys KeyProvider, sup *node.Supervisor, utxos UTxOSource, jrn *journal.Journal, fuelMarker string) *Service {
	return &Service{
		state:      st,
		db:         db,
		keys:       keys,
		supervisor: sup,
		utxos:      utxos,
		journal:    jrn,
		fuelMarker: fuelMarker,
		dial:       defaultDial,
	}
}

// CreateHead validates the request, records a new head with status pending,
// persists it, and optionally starts its network asynchronously. Failures
// of the async start are journaled, not returned.
func (s *Service) CreateHead(req types.HeadCreate) (*types.HeadRecord, error) {
	if req.Name == "" {
		return nil, types.ErrInvalidPayload()
	}
	if len(req.Participants) == 0 {
		return nil, types.ErrNotEnoughParticipants()
	}
	rec := types.HeadRecord{
		Name:         req.Name,
		Participants: req.Participants,
		Status:       types.StatusPending,
	}

	// reserve the name before persisting, so a concurrent create for the
	// same name fails here instead of double-writing
	if !s.state.PutHeadIfAbsent(rec) {
		return nil, types.ErrHeadExists(req.Name)
	}

	if err := s.persistHead(rec); err != nil {
		s.state.RemoveHead(rec.Name)
		log.Printf("head: persist %s: %v", rec.Name, err)
		return nil, types.ErrHeadCreationFailed()
	}

	s.journal.Info(rec.Name, fmt.Sprintf("head created with %d participants", len(rec.Participants)))

	if req.StartNetwork {
		go func() {
			if _, err := s.StartNetwork(rec.Name); err != nil {
				log.Printf("head: auto-start network for %s: %v", rec.Name, err)
				s.journal.Error(rec.Name, fmt.Sprintf("network start failed: %v", err))
			}
		}()
	}

	return &rec, nil
}

// persistHead writes the head row and one join row per participant,
// resolving each participant's proxy address (creating keys on first use).
func (s *Service) persistHead(rec types.HeadRecord) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.InsertHead(rec.Name, rec.Status); err != nil {
		return err
	}
	for _, owner := range rec.Participants {
		proxy, _, err := s.keys.AddOrGetKeyInfo(owner)
		if err != nil {
			return err
		}
		if err := s.db.AddParticipant(rec.Name, proxy); err != nil {
			return err
		}
	}
	return nil
}

// StartNetwork launches the head's node processes and attaches the status
// monitor. Idempotent: an already running network is returned unchanged.
func (s *Service) StartNetwork(name string) (*node.Network, error) {
	rec, ok := s.state.Head(name)
	if !ok {
		return nil, types.ErrHeadDoesntExist()
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	if n, ok := s.state.Network(name); ok {
		return n, nil
	}

	n, err := s.supervisor.Launch(rec)
	if err != nil {
		return nil, fmt.Errorf("start network for %s: %w", name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.SetCancel(cancel)
	s.state.PutNetwork(name, n)

	var db monitor.HeadStore
	if updater, ok := s.db.(monitor.HeadStore); ok {
		db = updater
	}
	go monitor.Run(ctx, s.state, db, s.journal, name, n.FirstAPIPort())

	log.Printf("head: network %s started for %s with %d nodes", n.ID, name, n.NodeCount())
	s.journal.Info(name, fmt.Sprintf("network started with %d nodes", n.NodeCount()))
	return n, nil
}

// StopNetwork terminates the head's node processes, cancels its monitor,
// and forgets the network. The head record and its status remain.
func (s *Service) StopNetwork(name string) error {
	n, ok := s.state.Network(name)
	if !ok {
		return types.ErrNetworkIsntRunning()
	}
	n.Stop()
	s.state.RemoveNetwork(name)
	log.Printf("head: network stopped for %s", name)
	s.journal.Info(name, "network stopped")
	return nil
}

// resolveNode finds the running node serving a participant's proxy address.
func (s *Service) resolveNode(name, participant string) (node.Info, error) {
	n, ok := s.state.Network(name)
	if !ok {
		return node.Info{}, types.ErrNetworkIsntRunning()
	}
	proxy, ok := s.state.Proxy(participant)
	if !ok {
		return node.Info{}, types.ErrNotAParticipant()
	}
	info, ok := n.Node(proxy.Address)
	if !ok {
		return node.Info{}, types.ErrNotAParticipant()
	}
	return info, nil
}

// InitHead sends the Init protocol command to the participant's node. The
// recorded status is not changed here; it only moves when the monitor
// observes the node's events.
func (s *Service) InitHead(req types.HeadInit) error {
	info, err := s.resolveNode(req.Name, req.Participant)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"tag":                "Init",
		"contestationPeriod": contestationPeriod,
	}
	if err := s.sendCommand(info.Ports.API, payload); err != nil {
		log.Printf("head: init %s via node %d: %v", req.Name, info.ID, err)
		// the node's API socket is unreachable, so the network is not
		// effectively running
		return types.ErrNetworkIsntRunning()
	}

	s.journal.Info(req.Name, fmt.Sprintf("init sent via node %d", info.ID))
	return nil
}

// CommitToHead queries the participant's proxy address for spendable funds,
// excludes reserved fuel outputs, and sends the Commit protocol command
// carrying that fund set.
func (s *Service) CommitToHead(req types.HeadCommit) error {
	info, err := s.resolveNode(req.Name, req.Participant)
	if err != nil {
		return err
	}

	utxos, err := s.utxos.QueryUTxOs(info.ProxyAddress)
	if err != nil {
		log.Printf("head: commit %s: query utxos at %s: %v", req.Name, info.ProxyAddress, err)
		return types.ErrFailedToBuildFundsTx()
	}

	payload := map[string]interface{}{
		"tag":  "Commit",
		"utxo": utxos.WithoutDatumHash(s.fuelMarker),
	}
	if err := s.sendCommand(info.Ports.API, payload); err != nil {
		log.Printf("head: commit %s via node %d: %v", req.Name, info.ID, err)
		return types.ErrNetworkIsntRunning()
	}

	s.journal.Info(req.Name, fmt.Sprintf("commit sent via node %d", info.ID))
	return nil
}

// GetHeadStatus reports the last recorded status for a head and whether a
// network is currently running for it.
func (s *Service) GetHeadStatus(name string) (*types.HeadStatus, error) {
	rec, ok := s.state.Head(name)
	if !ok {
		return nil, types.ErrHeadDoesntExist()
	}
	_, running := s.state.Network(name)
	return &types.HeadStatus{
		Name:    name,
		Running: running,
		Status:  rec.Status,
	}, nil
}

// sendCommand opens a fresh short-lived connection to the node API, writes
// one command, and closes.
func (s *Service) sendCommand(apiPort int, payload interface{}) error {
	conn, err := s.dial(fmt.Sprintf("ws://127.0.0.1:%d", apiPort))
	if err != nil {
		return fmt.Errorf("dial node api: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}
