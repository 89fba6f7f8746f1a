package mavlink

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Message IDs emitted by the bridge.
const (
	MsgIDHeartbeat        uint32 = 0
	MsgIDDistanceSensor   uint32 = 132
	MsgIDObstacleDistance uint32 = 330
)

// SensorType is MAV_DISTANCE_SENSOR.
type SensorType uint8

const (
	SensorLaser      SensorType = 0
	SensorUltrasound SensorType = 1
	SensorInfrared   SensorType = 2
	SensorRadar      SensorType = 3
	SensorUnknown    SensorType = 4
)

// SensorOrientation is MAV_SENSOR_ORIENTATION (yaw rotations only).
type SensorOrientation uint8

const (
	RotationNone   SensorOrientation = 0
	RotationYaw45  SensorOrientation = 1
	RotationYaw90  SensorOrientation = 2
	RotationYaw135 SensorOrientation = 3
	RotationYaw180 SensorOrientation = 4
	RotationYaw225 SensorOrientation = 5
	RotationYaw270 SensorOrientation = 6
	RotationYaw315 SensorOrientation = 7
)

// FrameBodyFRD is MAV_FRAME_BODY_FRD: forward, right, down relative to the
// vehicle body.
const FrameBodyFRD uint8 = 12

// Heartbeat field values used by a companion component.
const (
	TypeOnboardController uint8 = 18 // MAV_TYPE_ONBOARD_CONTROLLER
	AutopilotInvalid      uint8 = 8  // MAV_AUTOPILOT_INVALID
	StateActive           uint8 = 4  // MAV_STATE_ACTIVE
	protocolVersion       uint8 = 3
)

// Message is a MAVLink message that can be serialised into a frame payload.
type Message interface {
	MsgID() uint32
	// MarshalPayload returns the full, untruncated payload in wire order.
	MarshalPayload() []byte
}

type messageInfo struct {
	name     string
	crcExtra byte
	size     int
	decode   func(payload []byte) Message
}

var registry = map[uint32]messageInfo{
	MsgIDHeartbeat: {"HEARTBEAT", 50, heartbeatLen, func(p []byte) Message {
		return unmarshalHeartbeat(p)
	}},
	MsgIDDistanceSensor: {"DISTANCE_SENSOR", 85, distanceSensorLen, func(p []byte) Message {
		return unmarshalDistanceSensor(p)
	}},
	MsgIDObstacleDistance: {"OBSTACLE_DISTANCE", 23, obstacleDistanceLen, func(p []byte) Message {
		return unmarshalObstacleDistance(p)
	}},
}

// MessageName returns the MAVLink name of a known message ID.
func MessageName(id uint32) string {
	if info, ok := registry[id]; ok {
		return info.name
	}
	return fmt.Sprintf("MSG_%d", id)
}

// Heartbeat announces the sender as a live MAVLink component.
type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

const heartbeatLen = 9

// CompanionHeartbeat is the heartbeat sent by the bridge.
func CompanionHeartbeat() *Heartbeat {
	return &Heartbeat{
		Type:           TypeOnboardController,
		Autopilot:      AutopilotInvalid,
		SystemStatus:   StateActive,
		MavlinkVersion: protocolVersion,
	}
}

func (*Heartbeat) MsgID() uint32 { return MsgIDHeartbeat }

func (m *Heartbeat) MarshalPayload() []byte {
	b := make([]byte, 0, heartbeatLen)
	b = binary.LittleEndian.AppendUint32(b, m.CustomMode)
	return append(b, m.Type, m.Autopilot, m.BaseMode, m.SystemStatus, m.MavlinkVersion)
}

func unmarshalHeartbeat(p []byte) *Heartbeat {
	return &Heartbeat{
		CustomMode:     binary.LittleEndian.Uint32(p[0:4]),
		Type:           p[4],
		Autopilot:      p[5],
		BaseMode:       p[6],
		SystemStatus:   p[7],
		MavlinkVersion: p[8],
	}
}

// DistanceSensor reports one range finder reading in centimetres.
type DistanceSensor struct {
	TimeBootMs      uint32
	MinDistance     uint16
	MaxDistance     uint16
	CurrentDistance uint16
	Type            SensorType
	ID              uint8
	Orientation     SensorOrientation
	Covariance      uint8
	// extensions
	HorizontalFOV float32
	VerticalFOV   float32
	Quaternion    [4]float32
	SignalQuality uint8
}

const distanceSensorLen = 39

func (*DistanceSensor) MsgID() uint32 { return MsgIDDistanceSensor }

func (m *DistanceSensor) MarshalPayload() []byte {
	b := make([]byte, 0, distanceSensorLen)
	b = binary.LittleEndian.AppendUint32(b, m.TimeBootMs)
	b = binary.LittleEndian.AppendUint16(b, m.MinDistance)
	b = binary.LittleEndian.AppendUint16(b, m.MaxDistance)
	b = binary.LittleEndian.AppendUint16(b, m.CurrentDistance)
	b = append(b, byte(m.Type), m.ID, byte(m.Orientation), m.Covariance)
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(m.HorizontalFOV))
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(m.VerticalFOV))
	for _, q := range m.Quaternion {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(q))
	}
	return append(b, m.SignalQuality)
}

func unmarshalDistanceSensor(p []byte) *DistanceSensor {
	m := &DistanceSensor{
		TimeBootMs:      binary.LittleEndian.Uint32(p[0:4]),
		MinDistance:     binary.LittleEndian.Uint16(p[4:6]),
		MaxDistance:     binary.LittleEndian.Uint16(p[6:8]),
		CurrentDistance: binary.LittleEndian.Uint16(p[8:10]),
		Type:            SensorType(p[10]),
		ID:              p[11],
		Orientation:     SensorOrientation(p[12]),
		Covariance:      p[13],
		HorizontalFOV:   math.Float32frombits(binary.LittleEndian.Uint32(p[14:18])),
		VerticalFOV:     math.Float32frombits(binary.LittleEndian.Uint32(p[18:22])),
		SignalQuality:   p[38],
	}
	for i := range m.Quaternion {
		off := 22 + 4*i
		m.Quaternion[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[off : off+4]))
	}
	return m
}

// ObstacleSlots is the number of entries in an OBSTACLE_DISTANCE array.
const ObstacleSlots = 72

// ObstacleDistance reports a horizontal sweep of distances around the vehicle.
type ObstacleDistance struct {
	TimeUsec    uint64
	SensorType  SensorType
	Distances   [ObstacleSlots]uint16
	Increment   uint8
	MinDistance uint16
	MaxDistance uint16
	// extensions
	IncrementF  float32
	AngleOffset float32
	Frame       uint8
}

const obstacleDistanceLen = 167

func (*ObstacleDistance) MsgID() uint32 { return MsgIDObstacleDistance }

func (m *ObstacleDistance) MarshalPayload() []byte {
	b := make([]byte, 0, obstacleDistanceLen)
	b = binary.LittleEndian.AppendUint64(b, m.TimeUsec)
	for _, d := range m.Distances {
		b = binary.LittleEndian.AppendUint16(b, d)
	}
	b = binary.LittleEndian.AppendUint16(b, m.MinDistance)
	b = binary.LittleEndian.AppendUint16(b, m.MaxDistance)
	b = append(b, byte(m.SensorType), m.Increment)
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(m.IncrementF))
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(m.AngleOffset))
	return append(b, m.Frame)
}

func unmarshalObstacleDistance(p []byte) *ObstacleDistance {
	m := &ObstacleDistance{TimeUsec: binary.LittleEndian.Uint64(p[0:8])}
	for i := range m.Distances {
		off := 8 + 2*i
		m.Distances[i] = binary.LittleEndian.Uint16(p[off : off+2])
	}
	m.MinDistance = binary.LittleEndian.Uint16(p[152:154])
	m.MaxDistance = binary.LittleEndian.Uint16(p[154:156])
	m.SensorType = SensorType(p[156])
	m.Increment = p[157]
	m.IncrementF = math.Float32frombits(binary.LittleEndian.Uint32(p[158:162]))
	m.AngleOffset = math.Float32frombits(binary.LittleEndian.Uint32(p[162:166]))
	m.Frame = p[166]
	return m
}
