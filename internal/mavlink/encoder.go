package mavlink

import (
	"fmt"
	"time"

	"github.com/banshee-data/mr72-bridge/internal/distance"
	"github.com/banshee-data/mr72-bridge/internal/mr72"
)

// NoObstacle marks an OBSTACLE_DISTANCE slot with no reading.
const NoObstacle uint16 = 65535

// ObstacleIncrementDeg is the angular width of one obstacle slot.
const ObstacleIncrementDeg = 360 / ObstacleSlots

// EncoderConfig sets the ranges and mounting reported to the vehicle.
type EncoderConfig struct {
	MinDistanceCM uint16 `json:"min_distance_cm" yaml:"min_distance_cm"`
	MaxDistanceCM uint16 `json:"max_distance_cm" yaml:"max_distance_cm"`
	// RatedMaxMM is the radar's rated range; longer readings are dropped.
	RatedMaxMM uint16     `json:"rated_max_mm" yaml:"rated_max_mm"`
	SensorType SensorType `json:"sensor_type" yaml:"sensor_type"`
	Covariance uint8      `json:"covariance" yaml:"covariance"`
	// Orientations holds the mounting of Sector1, Sector2 and Sector3.
	Orientations [3]SensorOrientation `json:"orientations" yaml:"orientations"`
}

// DefaultEncoderConfig matches the MR72 datasheet and the original mounting.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		MinDistanceCM: 10,
		MaxDistanceCM: 3000,
		RatedMaxMM:    30000,
		SensorType:    SensorRadar,
		Covariance:    255, // unknown
		Orientations:  [3]SensorOrientation{RotationNone, RotationYaw45, RotationYaw90},
	}
}

// Validate checks that the configured range is usable.
func (c EncoderConfig) Validate() error {
	if c.MaxDistanceCM == 0 || c.MinDistanceCM >= c.MaxDistanceCM {
		return fmt.Errorf("distance range [%d, %d] cm is empty", c.MinDistanceCM, c.MaxDistanceCM)
	}
	if c.MaxDistanceCM >= NoObstacle {
		return fmt.Errorf("max distance %d cm collides with the no-obstacle sentinel", c.MaxDistanceCM)
	}
	if c.RatedMaxMM == 0 || c.RatedMaxMM == mr72.InvalidDistance {
		return fmt.Errorf("rated max %d mm is not a usable range", c.RatedMaxMM)
	}
	for i, o := range c.Orientations {
		if o > RotationYaw315 {
			return fmt.Errorf("sector%d orientation %d is not a yaw rotation", i+1, o)
		}
	}
	return nil
}

// Encoder converts distance snapshots into outbound messages. It holds no
// state beyond its configuration, so equal snapshots encode identically.
type Encoder struct {
	cfg  EncoderConfig
	boot time.Time
}

// NewEncoder returns an encoder whose time_boot_ms is measured from boot.
func NewEncoder(cfg EncoderConfig, boot time.Time) *Encoder {
	return &Encoder{cfg: cfg, boot: boot}
}

// OutOfRange is the DISTANCE_SENSOR value meaning "nothing within range".
func (e *Encoder) OutOfRange() uint16 {
	return e.cfg.MaxDistanceCM + 1
}

// Centimetres converts a radar reading to centimetres, reporting false for
// the invalid sentinel, readings beyond the rated range, and values outside
// the declared [min, max] range.
func (e *Encoder) Centimetres(mm uint16) (uint16, bool) {
	if mm == mr72.InvalidDistance || mm > e.cfg.RatedMaxMM {
		return 0, false
	}
	cm := mm / 10
	if cm < e.cfg.MinDistanceCM || cm > e.cfg.MaxDistanceCM {
		return 0, false
	}
	return cm, true
}

// Encode returns one DISTANCE_SENSOR per sector followed by one
// OBSTACLE_DISTANCE.
func (e *Encoder) Encode(s distance.Snapshot) []Message {
	msgs := make([]Message, 0, len(mr72.Sectors)+1)
	for _, id := range mr72.Sectors {
		msgs = append(msgs, e.SectorMessage(s, id))
	}
	return append(msgs, e.ObstacleMessage(s))
}

// SectorMessage builds the DISTANCE_SENSOR message for one sector.
func (e *Encoder) SectorMessage(s distance.Snapshot, id mr72.ReadingID) *DistanceSensor {
	cm, ok := e.Centimetres(s.Readings[id])
	if !ok {
		cm = e.OutOfRange()
	}
	return &DistanceSensor{
		TimeBootMs:      e.timeBootMs(s),
		MinDistance:     e.cfg.MinDistanceCM,
		MaxDistance:     e.cfg.MaxDistanceCM,
		CurrentDistance: cm,
		Type:            e.cfg.SensorType,
		ID:              uint8(id) + 1,
		Orientation:     e.cfg.Orientations[id],
		Covariance:      e.cfg.Covariance,
	}
}

// ObstacleMessage builds the 72-slot OBSTACLE_DISTANCE message. Only the five
// bearing slots can carry data; the rest report NoObstacle.
func (e *Encoder) ObstacleMessage(s distance.Snapshot) *ObstacleDistance {
	m := &ObstacleDistance{
		TimeUsec:    uint64(max(s.Updated.UnixMicro(), 0)),
		SensorType:  e.cfg.SensorType,
		Increment:   ObstacleIncrementDeg,
		MinDistance: e.cfg.MinDistanceCM,
		MaxDistance: e.cfg.MaxDistanceCM,
		IncrementF:  ObstacleIncrementDeg,
		AngleOffset: 0,
		Frame:       FrameBodyFRD,
	}
	for i := range m.Distances {
		m.Distances[i] = NoObstacle
	}
	for _, id := range mr72.Bearings {
		deg, _ := mr72.BearingDegrees(id)
		if cm, ok := e.Centimetres(s.Readings[id]); ok {
			m.Distances[deg/ObstacleIncrementDeg] = cm
		}
	}
	return m
}

func (e *Encoder) timeBootMs(s distance.Snapshot) uint32 {
	ms := s.Updated.Sub(e.boot).Milliseconds()
	if ms < 0 {
		return 0
	}
	return uint32(ms)
}
