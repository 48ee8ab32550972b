package model

// Handles index the element slices of a network. They are assigned in
// insertion order and stay stable for the lifetime of the network.
type (
	JunctionID  int
	PipeID      int
	ValveID     int
	ExchangerID int
	ExtGridID   int
	SinkID      int
	SourceID    int
)

// NoJunction marks an unset junction reference.
const NoJunction JunctionID = -1

// Physical constants used when a network does not override them.
const (
	WaterSpecificHeat = 4186.0 // J/(kg·K)
	WaterDensity      = 1000.0 // kg/m³
)

// GeoPoint is a schematic position. It has no effect on the physics.
type GeoPoint struct {
	X float64
	Y float64
}

// Junction is a node of the pipe network.
type Junction struct {
	Name string

	// InitialTemperature is the fluid temperature before the first step, in °C.
	InitialTemperature float64
	// InitialPressure is the nominal pressure in bar.
	InitialPressure float64

	Geo GeoPoint
}

// Pipe carries fluid between two junctions and loses heat to its
// surroundings along its length.
type Pipe struct {
	Name string
	From JunctionID
	To   JunctionID

	Length    float64 // m
	Diameter  float64 // m
	Roughness float64 // mm
	Alpha     float64 // heat transfer coefficient, W/(m²·K)
	Ambient   float64 // °C

	Stream Stream

	// MinVelocity bounds the slowest expected flow in m/s. Zero means the
	// network-wide default applies.
	MinVelocity float64
}

// Valve connects two junctions without thermal length. A closed valve
// carries no flow and separates the junctions thermally.
type Valve struct {
	Name            string
	From            JunctionID
	To              JunctionID
	Diameter        float64 // m
	LossCoefficient float64 // ζ, dimensionless
	Open            bool
}

// HeatExchanger is a consumer or producer tap between the forward side
// (From) and the return side (To).
type HeatExchanger struct {
	Name     string
	From     JunctionID
	To       JunctionID
	Diameter float64 // m

	// Power is the extracted thermal power in W. Negative values inject heat.
	Power float64

	// Controlled exchangers hold MassFlow (kg/s) regardless of pressure.
	// Passive exchangers behave like a valve with LossCoefficient.
	Controlled      bool
	MassFlow        float64
	LossCoefficient float64
}

// ExtGrid is a fixed-pressure boundary that supplies fluid at Temperature.
type ExtGrid struct {
	Name        string
	Junction    JunctionID
	Pressure    float64 // bar
	Temperature float64 // °C
}

// Sink withdraws a fixed mass flow from a junction.
type Sink struct {
	Name     string
	Junction JunctionID
	MassFlow float64 // kg/s
}

// Source injects a fixed mass flow at Temperature into a junction.
type Source struct {
	Name        string
	Junction    JunctionID
	MassFlow    float64 // kg/s
	Temperature float64 // °C
}
