package contracts

// DeviceInfo describes one MIDI port visible on the system.
type DeviceInfo struct {
	Name   string // Port name as reported by the driver.
	Input  bool   // True when the port can be opened for reading.
	Output bool   // True when the port can be opened for writing.
}
