package scenario

// File is the on-disk scenario document shared by the JSON, YAML and HCL
// loaders. Times are seconds relative to Epoch; durations are seconds.
type File struct {
	Name            string          `json:"name,omitempty" yaml:"name" hcl:"name,optional"`
	Epoch           string          `json:"epoch,omitempty" yaml:"epoch" hcl:"epoch,optional"`
	Duration        float64         `json:"duration" yaml:"duration" hcl:"duration"`
	ContactPlanFile string          `json:"contact_plan_file,omitempty" yaml:"contact_plan_file" hcl:"contact_plan_file,optional"`
	Parameters      *ParametersSpec `json:"parameters,omitempty" yaml:"parameters" hcl:"parameters,block"`
	Nodes           []NodeSpec      `json:"nodes" yaml:"nodes" hcl:"node,block"`
	Locations       []LocationSpec  `json:"locations,omitempty" yaml:"locations" hcl:"location,block"`
	Contacts        []ContactSpec   `json:"contacts,omitempty" yaml:"contacts" hcl:"contact,block"`
	Visibility      []WindowSpec    `json:"visibility,omitempty" yaml:"visibility" hcl:"window,block"`
	Requests        []RequestSpec   `json:"requests,omitempty" yaml:"requests" hcl:"request,block"`
	Generator       *GeneratorSpec  `json:"generator,omitempty" yaml:"generator" hcl:"generator,block"`
}

type ParametersSpec struct {
	CongestionFactor float64 `json:"congestion_factor,omitempty" yaml:"congestion_factor" hcl:"congestion_factor,optional"`
	EvictionPolicy   string  `json:"eviction_policy,omitempty" yaml:"eviction_policy" hcl:"eviction_policy,optional"`
	MinElevation     float64 `json:"min_elevation,omitempty" yaml:"min_elevation" hcl:"min_elevation,optional"`
	Seed             uint64  `json:"seed,omitempty" yaml:"seed" hcl:"seed,optional"`
	BundleSize       int64   `json:"bundle_size,omitempty" yaml:"bundle_size" hcl:"bundle_size,optional"`
	MaxTimeToAcquire float64 `json:"max_time_to_acquire,omitempty" yaml:"max_time_to_acquire" hcl:"max_time_to_acquire,optional"`
	MaxTimeToDeliver float64 `json:"max_time_to_deliver,omitempty" yaml:"max_time_to_deliver" hcl:"max_time_to_deliver,optional"`
	DefaultPriority  int     `json:"default_priority,omitempty" yaml:"default_priority" hcl:"default_priority,optional"`
}

type NodeSpec struct {
	ID              string `json:"id" yaml:"id" hcl:"id,label"`
	Name            string `json:"name,omitempty" yaml:"name" hcl:"name,optional"`
	Role            string `json:"role" yaml:"role" hcl:"role"`
	StorageCapacity int64  `json:"storage_capacity,omitempty" yaml:"storage_capacity" hcl:"storage_capacity,optional"`
	MaxContacts     int    `json:"max_contacts,omitempty" yaml:"max_contacts" hcl:"max_contacts,optional"`
	CanAcquire      bool   `json:"can_acquire,omitempty" yaml:"can_acquire" hcl:"can_acquire,optional"`
}

type LocationSpec struct {
	ID        string  `json:"id" yaml:"id" hcl:"id,label"`
	Name      string  `json:"name,omitempty" yaml:"name" hcl:"name,optional"`
	Latitude  float64 `json:"latitude,omitempty" yaml:"latitude" hcl:"latitude,optional"`
	Longitude float64 `json:"longitude,omitempty" yaml:"longitude" hcl:"longitude,optional"`
}

type ContactSpec struct {
	ID         string  `json:"id" yaml:"id" hcl:"id,label"`
	From       string  `json:"from" yaml:"from" hcl:"from"`
	To         string  `json:"to" yaml:"to" hcl:"to"`
	Start      float64 `json:"start" yaml:"start" hcl:"start"`
	End        float64 `json:"end" yaml:"end" hcl:"end"`
	Rate       float64 `json:"rate" yaml:"rate" hcl:"rate"`
	OWLT       float64 `json:"owlt,omitempty" yaml:"owlt" hcl:"owlt,optional"`
	Confidence float64 `json:"confidence,omitempty" yaml:"confidence" hcl:"confidence,optional"`
}

type WindowSpec struct {
	Node          string  `json:"node" yaml:"node" hcl:"node"`
	Location      string  `json:"location" yaml:"location" hcl:"location"`
	Start         float64 `json:"start" yaml:"start" hcl:"start"`
	End           float64 `json:"end" yaml:"end" hcl:"end"`
	PeakElevation float64 `json:"peak_elevation,omitempty" yaml:"peak_elevation" hcl:"peak_elevation,optional"`
}

type RequestSpec struct {
	ID               string  `json:"id" yaml:"id" hcl:"id,label"`
	Target           string  `json:"target" yaml:"target" hcl:"target"`
	Destination      string  `json:"destination" yaml:"destination" hcl:"destination"`
	SubmittedAt      float64 `json:"submitted_at" yaml:"submitted_at" hcl:"submitted_at"`
	MaxTimeToAcquire float64 `json:"max_time_to_acquire,omitempty" yaml:"max_time_to_acquire" hcl:"max_time_to_acquire,optional"`
	MaxTimeToDeliver float64 `json:"max_time_to_deliver,omitempty" yaml:"max_time_to_deliver" hcl:"max_time_to_deliver,optional"`
	Priority         *int    `json:"priority,omitempty" yaml:"priority" hcl:"priority,optional"`
	BundleSize       int64   `json:"bundle_size,omitempty" yaml:"bundle_size" hcl:"bundle_size,optional"`
}

type GeneratorSpec struct {
	// Count caps generated requests; zero generates until the scenario ends.
	Count int `json:"count,omitempty" yaml:"count" hcl:"count,optional"`
	// MeanInterArrival in seconds. When zero it is derived from Congestion.
	MeanInterArrival float64  `json:"mean_inter_arrival,omitempty" yaml:"mean_inter_arrival" hcl:"mean_inter_arrival,optional"`
	Congestion       float64  `json:"congestion,omitempty" yaml:"congestion" hcl:"congestion,optional"`
	Targets          []string `json:"targets" yaml:"targets" hcl:"targets"`
	Destinations     []string `json:"destinations" yaml:"destinations" hcl:"destinations"`
	MaxPriority      int      `json:"max_priority,omitempty" yaml:"max_priority" hcl:"max_priority,optional"`
}
