// Package node supervises the hydra-node processes backing a running head.
// It derives deterministic ports per participant, wires each node's peer
// list, launches one external process per participant with output redirected
// to per-node log files, and owns the resulting process handles.
package node

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"hydrapay.dev/hpd/internal/config"
	"hydrapay.dev/hpd/internal/types"
)

// Port derivation: three disjoint ports per participant, a pure function of
// the 1-based participant index.
const (
	portStride       = 1000
	p2pPortBase      = 5000
	apiPortBase      = 5001
	monitoringBase   = 5002
	localPeerAddress = "127.0.0.1"
)

// Ports holds the three listen ports assigned to one node.
type Ports struct {
	P2P        int `json:"p2p"`
	API        int `json:"api"`
	Monitoring int `json:"monitoring"`
}

// PortsFor returns the ports for the participant at the given 1-based index.
func PortsFor(index int) Ports {
	return Ports{
		P2P:        p2pPortBase + index*portStride,
		API:        apiPortBase + index*portStride,
		Monitoring: monitoringBase + index*portStride,
	}
}

// Info describes one node in a running network.
type Info struct {
	ID           int           `json:"id"`
	Ports        Ports         `json:"ports"`
	ProxyAddress string        `json:"proxy_address"`
	Keys         types.KeyInfo `json:"keys"`
}

type runningNode struct {
	info    Info
	proc    *os.Process
	logFile string
}

// Network is one live set of cooperating node processes for one head.
// The cancel func stops the network's status monitor.
type Network struct {
	ID     string
	Head   string
	nodes  map[string]*runningNode // keyed by proxy address
	cancel context.CancelFunc
}

// Node returns the Info for the node serving the given proxy address.
func (n *Network) Node(proxyAddress string) (Info, bool) {
	rn, ok := n.nodes[proxyAddress]
	if !ok {
		return Info{}, false
	}
	return rn.info, true
}

// NodeCount returns the number of nodes in the network.
func (n *Network) NodeCount() int {
	return len(n.nodes)
}

// FirstAPIPort returns the API port of the lowest-indexed node. The status
// monitor attaches here.
func (n *Network) FirstAPIPort() int {
	port := 0
	lowest := 0
	for _, rn := range n.nodes {
		if lowest == 0 || rn.info.ID < lowest {
			lowest = rn.info.ID
			port = rn.info.Ports.API
		}
	}
	return port
}

// SetCancel attaches the stop signal for the network's monitor task.
func (n *Network) SetCancel(cancel context.CancelFunc) {
	n.cancel = cancel
}

// Stop cancels the monitor and terminates every node process. Kill errors
// are ignored: a node that already exited leaves nothing to clean up.
func (n *Network) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	for _, rn := range n.nodes {
		if rn.proc != nil {
			_ = rn.proc.Kill()
		}
	}
}

// KeyProvider resolves or creates the custodial proxy key material for an
// owner address.
type KeyProvider interface {
	AddOrGetKeyInfo(owner string) (string, types.KeyInfo, error)
}

// Launcher starts one external node process with the given arguments,
// redirecting its stdout and stderr to logPath. It returns the process
// handle once the process has started.
type Launcher func(bin string, args []string, logPath string) (*os.Process, error)

// Supervisor launches hydra-node processes for heads.
type Supervisor struct {
	cfg    *config.Config
	keys   KeyProvider
	launch Launcher
}

// NewSupervisor creates a supervisor using the default process launcher.
func NewSupervisor(cfg *config.Config, keys KeyProvider) *Supervisor {
	return &Supervisor{cfg: cfg, keys: keys, launch: launchProcess}
}

// SetLauncher overrides the process launcher. Used by tests.
func (s *Supervisor) SetLauncher(l Launcher) {
	s.launch = l
}

// Launch resolves proxy keys for every participant, assigns ports, and
// starts one hydra-node per participant wired with every other participant
// as a peer. A failure launching any one node is returned as-is; already
// started nodes are not rolled back.
func (s *Supervisor) Launch(head types.HeadRecord) (*Network, error) {
	if err := os.MkdirAll(s.cfg.NodeLogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create node log directory: %w", err)
	}

	infos := make([]Info, 0, len(head.Participants))
	for i, owner := range head.Participants {
		proxy, keys, err := s.keys.AddOrGetKeyInfo(owner)
		if err != nil {
			return nil, fmt.Errorf("resolve proxy keys for %s: %w", owner, err)
		}
		infos = append(infos, Info{
			ID:           i + 1,
			Ports:        PortsFor(i + 1),
			ProxyAddress: proxy,
			Keys:         keys,
		})
	}

	network := &Network{
		ID:    uuid.NewString(),
		Head:  head.Name,
		nodes: make(map[string]*runningNode, len(infos)),
	}

	for _, info := range infos {
		logPath := filepath.Join(s.cfg.NodeLogDir,
			fmt.Sprintf("%s-node-%d-%s.log", head.Name, info.ID, network.ID))
		args := s.nodeArgs(info, peersOf(infos, info.ID))

		proc, err := s.launch(s.cfg.HydraNodeBin, args, logPath)
		if err != nil {
			return nil, fmt.Errorf("launch node %d for head %s: %w", info.ID, head.Name, err)
		}
		network.nodes[info.ProxyAddress] = &runningNode{
			info:    info,
			proc:    proc,
			logFile: logPath,
		}
	}

	return network, nil
}

// peersOf returns every node except the one with the given id, ordered by id.
func peersOf(infos []Info, selfID int) []Info {
	peers := make([]Info, 0, len(infos)-1)
	for _, info := range infos {
		if info.ID != selfID {
			peers = append(peers, info)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

// nodeArgs builds the hydra-node command line: shared ledger flags, the
// node's own identity, and one repeated peer block per other participant.
func (s *Supervisor) nodeArgs(self Info, peers []Info) []string {
	ledger := s.cfg.Ledger
	args := []string{
		"--node-id", strconv.Itoa(self.ID),
		"--port", strconv.Itoa(self.Ports.P2P),
		"--api-port", strconv.Itoa(self.Ports.API),
		"--monitoring-port", strconv.Itoa(self.Ports.Monitoring),
		"--hydra-signing-key", self.Keys.HydraSigningKey,
		"--cardano-signing-key", self.Keys.CardanoSigningKey,
		"--ledger-genesis", ledger.GenesisFile,
		"--ledger-protocol-parameters", ledger.ProtocolParamsFile,
		"--network-id", strconv.Itoa(ledger.NetworkMagic),
		"--node-socket", ledger.NodeSocket,
		"--hydra-scripts-tx-id", ledger.HydraScriptsTxID,
	}
	for _, peer := range peers {
		args = append(args,
			"--peer", fmt.Sprintf("%s:%d", localPeerAddress, peer.Ports.P2P),
			"--hydra-verification-key", peer.Keys.HydraVerificationKey,
			"--cardano-verification-key", peer.Keys.CardanoVerificationKey,
		)
	}
	return args
}

// launchProcess starts the node binary with stdout and stderr appended to
// the per-node log file. The process is reaped in the background so exited
// nodes do not accumulate as zombies.
func launchProcess(bin string, args []string, logPath string) (*os.Process, error) {
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open node log %s: %w", logPath, err)
	}

	cmd := exec.Command(bin, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	go func() {
		_ = cmd.Wait()
		logFile.Close()
	}()

	return cmd.Process, nil
}
