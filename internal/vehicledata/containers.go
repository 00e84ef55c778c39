// Package vehicledata talks to the Mercedes-Benz vehicledata v2 API: the
// container catalog the exporter publishes, and the HTTP client that fetches
// container readings with a bearer token.
package vehicledata

import "strconv"

// ValueMapper converts a vendor-reported value to the exported gauge value.
// The vendor serializes everything as strings, booleans included.
type ValueMapper func(string) (float64, error)

// Resource describes one data point within a container and how it is
// exported.
type Resource struct {
	// Name is the key the vendor uses in container responses.
	Name string
	// MetricBase is the exported metric name without unit suffix. The
	// measurement-time and update-time companion series derive from it.
	MetricBase string
	// Unit, when set, is appended to MetricBase for the value gauge.
	Unit string
	Help string
	Map  ValueMapper
}

// MetricName returns the name of the value gauge.
func (r Resource) MetricName() string {
	if r.Unit != "" {
		return r.MetricBase + "_" + r.Unit
	}
	return r.MetricBase
}

// Container groups the resources served by one vehicledata endpoint
// together with the vendor's call quota for it.
type Container struct {
	Name string
	// CallsPerHour is the vendor-imposed quota. Exceeding it answers 429,
	// so collectors pace themselves below this rate.
	CallsPerHour float64
	Resources    []Resource
}

// Containers returns the catalog of vehicledata containers the exporter
// reads. Callers must not modify the returned slice.
func Containers() []Container {
	return containers
}

var containers = []Container{
	{
		Name:         "electricvehicle",
		CallsPerHour: 2,
		Resources: []Resource{
			{
				Name:       "soc",
				MetricBase: "mb_electric_state_of_charge",
				Help:       "State of Charge obtained from electric vehicle api",
				Map:        mapFloat,
			},
			{
				Name:       "rangeelectric",
				MetricBase: "mb_electric_range",
				Unit:       "meters",
				Help:       "Electric range in kilometers",
				Map:        mapKilometersToMeters,
			},
		},
	},
	{
		Name:         "fuelstatus",
		CallsPerHour: 1,
		Resources: []Resource{
			{
				Name:       "tanklevelpercent",
				MetricBase: "mb_liquid_fuel_level",
				Help:       "Liquid fuel level",
				Map:        mapFloat,
			},
			{
				Name:       "rangeliquid",
				MetricBase: "mb_liquid_range",
				Unit:       "meters",
				Help:       "Liquid range",
				Map:        mapKilometersToMeters,
			},
		},
	},
	{
		Name:         "payasyoudrive",
		CallsPerHour: 1,
		Resources: []Resource{
			{
				Name:       "odo",
				MetricBase: "mb_odometer",
				Unit:       "meters",
				Help:       "Odometer",
				Map:        mapKilometersToMeters,
			},
		},
	},
	{
		Name:         "vehiclelockstatus",
		CallsPerHour: 50,
		Resources: []Resource{
			{
				Name:       "doorlockstatusdecklid",
				MetricBase: "mb_deck_lid_lock_status",
				Help:       "Deck lid (Kofferraum) lock status",
				Map:        mapBoolInverted,
			},
			{
				Name:       "doorlockstatusvehicle",
				MetricBase: "mb_vehicle_lock_status",
				Help: "Vehicle lock status; " +
					"0: vehicle unlocked; " +
					"1: vehicle internal locked; " +
					"2: vehicle external locked; " +
					"3: vehicle selective unlocked",
				Map: mapFloat,
			},
			{
				Name:       "doorlockstatusgas",
				MetricBase: "mb_gas_tank_lock_status",
				Help:       "Status of gas tank door lock",
				Map:        mapBoolInverted,
			},
			{
				Name:       "positionHeading",
				MetricBase: "mb_vehicle_heading_position",
				Unit:       "degrees",
				Help:       "Vehicle heading position",
				Map:        mapFloat,
			},
		},
	},
	{
		Name:         "vehiclestatus",
		CallsPerHour: 50,
		Resources: []Resource{
			{
				Name:       "decklidstatus",
				MetricBase: "mb_deck_lid_open",
				Help:       "Deck lid latch status opened/closed state",
				Map:        mapBool,
			},
			{
				Name:       "doorstatusfrontleft",
				MetricBase: "mb_door_status_front_left",
				Help:       "Status of the front left door",
				Map:        mapBool,
			},
			{
				Name:       "doorstatusfrontright",
				MetricBase: "mb_door_status_front_right",
				Help:       "Status of the front right door",
				Map:        mapBool,
			},
			{
				Name:       "doorstatusrearleft",
				MetricBase: "mb_door_status_rear_left",
				Help:       "Status of the rear left door",
				Map:        mapBool,
			},
			{
				Name:       "doorstatusrearright",
				MetricBase: "mb_door_status_rear_right",
				Help:       "Status of the rear right door",
				Map:        mapBool,
			},
			{
				Name:       "interiorLightsFront",
				MetricBase: "mb_interior_front_light_status",
				Help:       "Front light inside",
				Map:        mapBool,
			},
			{
				Name:       "interiorLightsRear",
				MetricBase: "mb_interior_rear_light_status",
				Help:       "Rear light inside",
				Map:        mapBool,
			},
			{
				Name:       "lightswitchposition",
				MetricBase: "mb_light_switch_position",
				Help: "Light switch position; " +
					"0: auto; " +
					"1: headlights; " +
					"2: sidelight left; " +
					"3: sidelight right; " +
					"4: parking light",
				Map: mapFloat,
			},
			{
				Name:       "readingLampFrontLeft",
				MetricBase: "mb_reading_lamp_front_left",
				Help:       "Front left reading light",
				Map:        mapBool,
			},
			{
				Name:       "readingLampFrontRight",
				MetricBase: "mb_reading_lamp_front_right",
				Help:       "Front right reading light",
				Map:        mapBool,
			},
			{
				Name:       "rooftopstatus",
				MetricBase: "mb_roof_top_status",
				Help: "Status of the convertible top opened/closed; " +
					"0: unlocked; " +
					"1: open and locked; " +
					"2: closed and locked",
				Map: mapFloat,
			},
			{
				Name:       "sunroofstatus",
				MetricBase: "mb_sun_roof_status",
				Help: "Status of the sunroof; " +
					"0: Tilt/slide sunroof is closed; " +
					"1: Tilt/slide sunroof is complete open; " +
					"2: Lifting roof is open; " +
					"3: Tilt/slide sunroof is running; " +
					"4: Tilt/slide sunroof in anti-booming position; " +
					"5: Sliding roof in intermediate position; " +
					"6: Lifting roof in intermediate position",
				Map: mapFloat,
			},
			{
				Name:       "windowstatusfrontleft",
				MetricBase: "mb_window_status_front_left",
				Help:       "Status of the front left window; " + windowStates,
				Map:        mapFloat,
			},
			{
				Name:       "windowstatusfrontright",
				MetricBase: "mb_window_status_front_right",
				Help:       "Status of the front right window; " + windowStates,
				Map:        mapFloat,
			},
			{
				Name:       "windowstatusrearleft",
				MetricBase: "mb_window_status_rear_left",
				Help:       "Status of the rear left window; " + windowStates,
				Map:        mapFloat,
			},
			{
				Name:       "windowstatusrearright",
				MetricBase: "mb_window_status_rear_right",
				Help:       "Status of the rear right window; " + windowStates,
				Map:        mapFloat,
			},
		},
	},
}

const windowStates = "0: window in intermediate position; " +
	"1: window completely opened; " +
	"2: window completely closed; " +
	"3: window airing position; " +
	"4: window intermediate airing position; " +
	"5: window currently running"

func mapFloat(v string) (float64, error) {
	return strconv.ParseFloat(v, 64)
}

// mapKilometersToMeters converts the vendor's kilometer readings to base
// units.
func mapKilometersToMeters(v string) (float64, error) {
	km, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return km * 1000, nil
}

func mapBool(v string) (float64, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return 0, err
	}
	if b {
		return 1, nil
	}
	return 0, nil
}

// mapBoolInverted exports lock resources where the vendor reports "false"
// for locked.
func mapBoolInverted(v string) (float64, error) {
	f, err := mapBool(v)
	if err != nil {
		return 0, err
	}
	return 1 - f, nil
}
