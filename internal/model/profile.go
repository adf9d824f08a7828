package model

// Profile is an immutable catalog entry: a named bundle of command templates
// with paired inverse templates. Two catalogs exist, router profiles and site
// profiles; both are loaded at process start and read-only at runtime.
type Profile struct {
	ID          string            `json:"id"`
	Label       string            `json:"label"`
	Description string            `json:"description,omitempty"`
	// Settings declares the configuration keys this profile pins. Conflict
	// detection compares these maps before any device I/O.
	Settings map[string]string `json:"settings,omitempty"`
	Commands []CommandPair     `json:"commands"`
}

// ProfileSummary is the listing shape returned to the UI.
type ProfileSummary struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Device is the metadata the engine needs to open a session to one router.
// Inventory CRUD lives outside this engine; only lookup is supported here.
type Device struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenant_id,omitempty"`
	Address      string `json:"address"`
	Port         int    `json:"port,omitempty"`
	Vendor       string `json:"vendor,omitempty"`
	Identity     string `json:"identity,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	SSHKeyPath   string `json:"ssh_key_path,omitempty"`
	LANInterface string `json:"lan_interface,omitempty"`
	WANInterface string `json:"wan_interface,omitempty"`
	LANNetwork   string `json:"lan_network,omitempty"`
}
