package quorumkv

import (
	"context"
	"fmt"
	"sort"
	"sync"

	logging "github.com/op/go-logging"

	"replicate/internal/clock"
	"replicate/internal/config"
	"replicate/internal/quorum"
	"replicate/internal/repair"
	"replicate/internal/replica"
	"replicate/internal/storage"
	"replicate/internal/transport"
	"replicate/internal/wire"
)

var logger = logging.MustGetLogger("quorumkv")

// ErrEmptyKey rejects a client read of the empty key. Sets report the same
// rejection as an error status.
var ErrEmptyKey = fmt.Errorf("%w: key cannot be empty", wire.ErrMalformed)

// KV is one replica of the quorum key-value store.
type KV struct {
	r        *replica.Replica
	store    storage.Store
	repairer *repair.ReadRepairer
	syncRead bool

	mu         sync.Mutex
	lastIssued clock.MonotonicID
}

// New creates a quorum KV replica storing its values in store.
func New(cfg config.Config, tr transport.Transport, store storage.Store) *KV {
	kv := &KV{
		store:      store,
		syncRead:   cfg.SyncReadRepair,
		lastIssued: clock.Empty(),
	}
	kv.r = replica.New(cfg, tr, replica.Routes{
		wire.KindGetVersion:        replica.Handle(wire.KindGetVersionResponse, kv.handleGetVersion),
		wire.KindVersionedSetValue: replica.Handle(wire.KindSetValueResponse, kv.handleVersionedSetValue),
		wire.KindVersionedGetValue: replica.Handle(wire.KindGetValueResponse, kv.handleVersionedGetValue),
		wire.KindClientSetValue:    replica.HandleAsync(wire.KindSetValueResponse, kv.handleClientSetValue),
		wire.KindClientGetValue:    replica.HandleAsync(wire.KindGetValueResponse, kv.handleClientGetValue),
	})
	kv.repairer = repair.NewReadRepairer(kv.repairReplica, cfg.Timeout())
	return kv
}

// Dispatch implements transport.Dispatcher.
func (kv *KV) Dispatch(ctx context.Context, env wire.Envelope) (wire.Envelope, error) {
	return kv.r.Dispatch(ctx, env)
}

// Close stops the replica.
func (kv *KV) Close() error {
	return kv.r.Close()
}

// Local returns the value this replica stores for key.
func (kv *KV) Local(ctx context.Context, key string) (wire.StoredValue, error) {
	var (
		sv  wire.StoredValue
		err error
	)
	if derr := kv.r.Do(ctx, func() { sv, err = kv.load(key) }); derr != nil {
		return wire.StoredValue{}, derr
	}
	return sv, err
}

func (kv *KV) load(key string) (wire.StoredValue, error) {
	b, ok, err := kv.store.Get(key)
	if err != nil {
		return wire.StoredValue{}, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		sv := wire.EmptyStoredValue()
		sv.Key = key
		return sv, nil
	}
	var sv wire.StoredValue
	if err := sv.Unmarshal(b); err != nil {
		return wire.StoredValue{}, fmt.Errorf("load %s: %w", key, err)
	}
	return sv, nil
}

func (kv *KV) handleGetVersion(ctx context.Context, req *wire.GetVersionRequest) (wire.Message, error) {
	sv, err := kv.load(req.Key)
	if err != nil {
		return nil, err
	}
	return &wire.GetVersionResponse{Version: sv.Version}, nil
}

// handleVersionedSetValue writes only if the request carries a newer
// version, and acknowledges either way so replays are harmless. The reply
// carries the value the replica holds afterwards.
func (kv *KV) handleVersionedSetValue(ctx context.Context, req *wire.VersionedSetValueRequest) (wire.Message, error) {
	stored, err := kv.load(req.Key)
	if err != nil {
		return nil, err
	}

	if !req.Version.IsAfter(stored.Version) {
		logger.Debugf("[%s] Ignoring stale write key=%s version=%s stored=%s",
			kv.r.ID(), req.Key, req.Version, stored.Version)
		return &wire.SetValueResponse{Status: wire.StatusSuccess, Value: stored.Value, Version: stored.Version}, nil
	}

	sv := wire.StoredValue{Key: req.Key, Value: req.Value, Version: req.Version}
	if err := kv.store.Put(req.Key, sv.Marshal()); err != nil {
		logger.Errorf("[%s] Failed to store key=%s: %v", kv.r.ID(), req.Key, err)
		return nil, fmt.Errorf("store %s: %w", req.Key, err)
	}
	logger.Debugf("[%s] Stored key=%s version=%s", kv.r.ID(), req.Key, req.Version)
	return &wire.SetValueResponse{Status: wire.StatusSuccess, Value: req.Value, Version: req.Version}, nil
}

func (kv *KV) handleVersionedGetValue(ctx context.Context, req *wire.GetValueRequest) (wire.Message, error) {
	sv, err := kv.load(req.Key)
	if err != nil {
		return nil, err
	}
	return wire.Found(sv), nil
}

func (kv *KV) handleClientSetValue(ctx context.Context, req *wire.SetValueRequest) (wire.Message, error) {
	logger.Infof("[%s] Set request: key=%s", kv.r.ID(), req.Key)

	if req.Key == "" {
		return &wire.SetValueResponse{
			Status:       wire.StatusError,
			Version:      clock.Empty(),
			ErrorMessage: "key cannot be empty",
		}, nil
	}

	n := len(kv.r.Replicas())
	versions := quorum.NewCallback[*wire.GetVersionResponse](n, nil)
	replica.SendToAllPeers(ctx, kv.r, versions, wire.KindGetVersion, &wire.GetVersionRequest{Key: req.Key})
	seen, err := versions.Wait(ctx)
	if err != nil {
		logger.Warningf("[%s] Version round failed for key=%s: %v", kv.r.ID(), req.Key, err)
		return nil, fmt.Errorf("version round for %s: %w", req.Key, err)
	}

	ids := make([]clock.MonotonicID, 0, len(seen))
	for _, resp := range seen {
		ids = append(ids, resp.Version)
	}
	version := kv.nextVersion(ids)

	acks := quorum.NewCallback(n, func(resp *wire.SetValueResponse) bool {
		return resp.Status == wire.StatusSuccess
	})
	replica.SendToAllPeers(ctx, kv.r, acks, wire.KindVersionedSetValue,
		&wire.VersionedSetValueRequest{Key: req.Key, Value: req.Value, Version: version})
	written, err := acks.Wait(ctx)
	if err != nil {
		logger.Warningf("[%s] Write round failed for key=%s version=%s: %v", kv.r.ID(), req.Key, version, err)
		return nil, fmt.Errorf("write round for %s: %w", req.Key, err)
	}

	logger.Infof("[%s] Set key=%s version=%s acknowledged by %d replicas, required %d",
		kv.r.ID(), req.Key, version, len(written), acks.Required())
	return representative(written), nil
}

// representative picks one acknowledgement, the first by replica ID.
func representative(acks map[string]*wire.SetValueResponse) *wire.SetValueResponse {
	ids := make([]string, 0, len(acks))
	for id := range acks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return acks[ids[0]]
}

// nextVersion returns a version after every version in seen and after every
// version this replica issued before. The node index makes it unique across
// coordinators.
func (kv *KV) nextVersion(seen []clock.MonotonicID) clock.MonotonicID {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	highest := clock.Max(append(seen, kv.lastIssued)...)
	kv.lastIssued = highest.Next(kv.r.Index())
	return kv.lastIssued
}

func (kv *KV) handleClientGetValue(ctx context.Context, req *wire.GetValueRequest) (wire.Message, error) {
	logger.Infof("[%s] Get request: key=%s", kv.r.ID(), req.Key)

	if req.Key == "" {
		return nil, ErrEmptyKey
	}

	cb := quorum.NewCallback[*wire.GetValueResponse](len(kv.r.Replicas()), nil)
	replica.SendToAllPeers(ctx, kv.r, cb, wire.KindVersionedGetValue, &wire.GetValueRequest{Key: req.Key})
	responses, err := cb.Wait(ctx)
	if err != nil {
		logger.Warningf("[%s] Read round failed for key=%s: %v", kv.r.ID(), req.Key, err)
		return nil, fmt.Errorf("read round for %s: %w", req.Key, err)
	}

	values := make(map[string]wire.StoredValue, len(responses))
	for peer, resp := range responses {
		if resp.Found {
			values[peer] = resp.Value
		} else {
			values[peer] = wire.EmptyStoredValue()
		}
	}

	res := repair.Reconcile(req.Key, values)
	if kv.syncRead {
		if err := kv.repairer.RepairSync(ctx, res); err != nil {
			logger.Warningf("[%s] Read repair incomplete for key=%s: %v", kv.r.ID(), req.Key, err)
		}
	} else {
		kv.repairer.Repair(ctx, res)
	}

	if res.IsNotFound() {
		return wire.Absent(req.Key), nil
	}
	return wire.Found(res.Winner), nil
}

func (kv *KV) repairReplica(ctx context.Context, peer string, sv wire.StoredValue) error {
	resp, err := replica.SendTo[wire.SetValueResponse](ctx, kv.r, peer, wire.KindVersionedSetValue,
		&wire.VersionedSetValueRequest{Key: sv.Key, Value: sv.Value, Version: sv.Version})
	if err != nil {
		return err
	}
	if resp.Status != wire.StatusSuccess {
		return fmt.Errorf("replica set returned %s: %s", resp.Status, resp.ErrorMessage)
	}
	return nil
}
