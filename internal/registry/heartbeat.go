package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/accel-dispatch/internal/logger"
)

const (
	deviceKeyPrefix     = "acceldispatch:device:"
	deviceSetKey        = "acceldispatch:devices:active"
	heartbeatKeySuffix  = ":heartbeat"
	deviceInfoKeySuffix = ":info"
)

// DeviceInfo is the point-in-time snapshot a heartbeat publishes for one
// worker's device, readable by GetActiveDevices from any process sharing
// the same Redis instance.
type DeviceInfo struct {
	DeviceID      int       `json:"device_id"`
	State         string    `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// heartbeat refreshes one device's presence key on an interval from the
// controlling process and publishes the device's last-observed state, so an
// external registry reader can see which devices a live controller is
// running without going through the Dispatcher. The key expires when the
// controller stops refreshing it, not when the worker process exits.
type heartbeat struct {
	client   *redis.Client
	deviceID int
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	info     *DeviceInfo
	infoMu   sync.RWMutex
}

func newHeartbeat(client *redis.Client, deviceID int, interval, timeout time.Duration) *heartbeat {
	return &heartbeat{
		client:   client,
		deviceID: deviceID,
		interval: interval,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
		info: &DeviceInfo{
			DeviceID:  deviceID,
			State:     "spawned",
			StartedAt: time.Now().UTC(),
		},
	}
}

func (h *heartbeat) start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		h.register(ctx)
		h.loop(ctx)
	}()
}

func (h *heartbeat) stop() {
	close(h.stopCh)
	h.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.deregister(ctx)
}

func (h *heartbeat) updateState(state string) {
	h.infoMu.Lock()
	h.info.State = state
	h.infoMu.Unlock()
}

func (h *heartbeat) loop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.send(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.send(ctx)
		}
	}
}

func (h *heartbeat) send(ctx context.Context) {
	now := time.Now().UTC()

	if err := h.client.Set(ctx, h.heartbeatKey(), now.Unix(), h.timeout).Err(); err != nil {
		logger.Error().Err(err).Int("device_id", h.deviceID).Msg("registry: failed to send heartbeat")
		return
	}

	h.infoMu.Lock()
	h.info.LastHeartbeat = now
	data, _ := json.Marshal(h.info)
	h.infoMu.Unlock()

	if err := h.client.Set(ctx, h.infoKey(), data, h.timeout*2).Err(); err != nil {
		logger.Error().Err(err).Int("device_id", h.deviceID).Msg("registry: failed to update device info")
	}

	h.client.SAdd(ctx, deviceSetKey, h.deviceID)
}

func (h *heartbeat) register(ctx context.Context) {
	h.client.SAdd(ctx, deviceSetKey, h.deviceID)

	h.infoMu.Lock()
	h.info.StartedAt = time.Now().UTC()
	data, _ := json.Marshal(h.info)
	h.infoMu.Unlock()

	h.client.Set(ctx, h.infoKey(), data, h.timeout*2)
}

func (h *heartbeat) deregister(ctx context.Context) {
	h.client.SRem(ctx, deviceSetKey, h.deviceID)
	h.client.Del(ctx, h.heartbeatKey(), h.infoKey())
}

func (h *heartbeat) heartbeatKey() string {
	return deviceKeyPrefix + strconv.Itoa(h.deviceID) + heartbeatKeySuffix
}

func (h *heartbeat) infoKey() string {
	return deviceKeyPrefix + strconv.Itoa(h.deviceID) + deviceInfoKeySuffix
}

// GetActiveDevices returns the last-known snapshot of every device with a
// live presence entry in the active set, pruning any whose info key has
// already expired.
func GetActiveDevices(ctx context.Context, client *redis.Client) ([]DeviceInfo, error) {
	ids, err := client.SMembers(ctx, deviceSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: get active devices: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(ids))
	for _, id := range ids {
		infoKey := deviceKeyPrefix + id + deviceInfoKeySuffix
		data, err := client.Get(ctx, infoKey).Bytes()
		if err == redis.Nil {
			client.SRem(ctx, deviceSetKey, id)
			continue
		}
		if err != nil {
			continue
		}

		var info DeviceInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		devices = append(devices, info)
	}

	return devices, nil
}

// IsDeviceAlive reports whether deviceID's heartbeat key has not yet
// expired.
func IsDeviceAlive(ctx context.Context, client *redis.Client, deviceID int) (bool, error) {
	key := deviceKeyPrefix + strconv.Itoa(deviceID) + heartbeatKeySuffix
	exists, err := client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("registry: check device heartbeat: %w", err)
	}
	return exists > 0, nil
}
