package types

// ---- Flash capability (storage/flash/<name>) ----

// FlashInfo is published under hal/cap/.../info as Info.Detail.
type FlashInfo struct {
	Variant    string `json:"variant"`
	Port       string `json:"port"`
	Size       uint32 `json:"size"`
	PageSize   uint32 `json:"page_size"`
	SectorSize uint32 `json:"sector_size"`
	Pages      uint32 `json:"pages"`
	TimeoutTk  uint32 `json:"timeout_ticks"`
}

// Control payloads. Tag is echoed in the matching FlashOpResult.

type FlashErase struct {
	Tag   string `json:"tag,omitempty"`
	Mass  bool   `json:"mass,omitempty"`
	Addr  uint32 `json:"addr"`  // start of the first page; must be page aligned
	Pages uint32 `json:"pages"` // >0 unless Mass
}

type FlashProgram struct {
	Tag   string `json:"tag,omitempty"`
	Width uint8  `json:"width"` // 1, 2, 4 or 8 bytes
	Addr  uint32 `json:"addr"`
	Data  uint64 `json:"data"`
}

// FlashWrite programs an arbitrary byte run using the widest aligned units.
type FlashWrite struct {
	Tag    string `json:"tag,omitempty"`
	Addr   uint32 `json:"addr"`
	Data   []byte `json:"data"`
	Verify bool   `json:"verify,omitempty"`
}

type FlashRead struct {
	Tag  string `json:"tag,omitempty"`
	Addr uint32 `json:"addr"`
	Len  uint32 `json:"len"`
}

type FlashProtect struct {
	Tag  string `json:"tag,omitempty"`
	Mask uint32 `json:"mask"` // bit n protects sector n
}

// Event payloads.

// FlashOpResult is emitted as a tagged event named after the verb.
type FlashOpResult struct {
	Tag       string `json:"tag,omitempty"`
	Verb      string `json:"verb"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	PageError uint32 `json:"page_error"` // 0xFFFFFFFF when no page failed
}

// FlashData answers a FlashRead (tagged event "read").
type FlashData struct {
	Tag  string `json:"tag,omitempty"`
	Addr uint32 `json:"addr"`
	Data []byte `json:"data"`
}

// FlashStatus is published under hal/cap/.../value (retained).
type FlashStatus struct {
	State         string   `json:"state"`
	Procedure     string   `json:"procedure"`
	Address       uint32   `json:"address"`
	DataRemaining uint32   `json:"data_remaining"`
	ErrorCode     uint32   `json:"error_code"`
	Errors        []string `json:"errors,omitempty"`
	WriteProtect  uint32   `json:"write_protect"`
}

// FlashAlarm is emitted (tagged event "alarm") from the alarm interrupt.
type FlashAlarm struct {
	ErrorCode uint32   `json:"error_code"`
	Errors    []string `json:"errors"`
}

// FlashPortSpec describes one flash port offered by the host provider.
type FlashPortSpec struct {
	ID        string `json:"id"                  yaml:"id"`                  // e.g. "flash0"
	Variant   string `json:"variant,omitempty"   yaml:"variant,omitempty"`   // chip variant, "" => default
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"` // "direct" (default) or "i2c"
	Addr      uint16 `json:"addr,omitempty"      yaml:"addr,omitempty"`      // bridge address for "i2c"
}
