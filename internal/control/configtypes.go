package control

// ConfigType names one of the DVR's XML configuration sections fetchable
// through C4.GetConfig (spec section 4.2.4, 6: `GET /api/config-types`).
// The device's main_cmd values for configuration categories aren't part of
// the wire protocol itself (only CmdGetCfg, the request envelope, is); this
// table is this bridge's own registry of the categories operators use in
// practice, resolved here since neither spec.md nor the protocol section
// enumerates them.
type ConfigType struct {
	MainCmd int    `json:"main_cmd"`
	Name    string `json:"name"`
}

var configTypes = []ConfigType{
	{MainCmd: 1, Name: "General"},
	{MainCmd: 2, Name: "Network"},
	{MainCmd: 3, Name: "Record"},
	{MainCmd: 4, Name: "Encode"},
	{MainCmd: 5, Name: "Alarm"},
	{MainCmd: 6, Name: "PTZ"},
	{MainCmd: 7, Name: "Users"},
}
