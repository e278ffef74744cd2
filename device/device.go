// Package device defines the collar device data model: the tolerant JSON
// record shape shared by REST snapshots and push payloads, the tracking
// mode vocabulary, and the battery voltage curve.
package device

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/c360/collarkit/pkg/timestamp"
)

// FlexString decodes a JSON string or number into its string form. The
// service is inconsistent about numeric versus string encoding for some
// fields (notably timestamps), so both are accepted.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Position is the last known GPS fix of a collar.
type Position struct {
	Latitude   *float64 `json:"posLat,omitempty"`
	Longitude  *float64 `json:"posLong,omitempty"`
	Accuracy   *float64 `json:"acc,omitempty"`
	HoriPrec   *float64 `json:"horiPrec,omitempty"`
	Satellites *int     `json:"sat,omitempty"`
}

// GPSAccuracy returns the reported accuracy, preferring the acc field and
// falling back to horizontal precision.
func (p *Position) GPSAccuracy() *float64 {
	if p == nil {
		return nil
	}
	if p.Accuracy != nil {
		return p.Accuracy
	}
	return p.HoriPrec
}

// Details holds the user-assigned collar metadata.
type Details struct {
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
	Img   string `json:"img,omitempty"`
}

// ImageName returns the configured picture asset name, if any.
func (d *Details) ImageName() string {
	if d == nil {
		return ""
	}
	if d.Image != "" {
		return d.Image
	}
	return d.Img
}

// Device is one collar record. All fields except the id are optional;
// push payloads carry only the fields that changed, and unknown keys are
// ignored on decode.
type Device struct {
	ID          int64           `json:"id"`
	Details     *Details        `json:"details,omitempty"`
	LastPos     *Position       `json:"lastPos,omitempty"`
	Battery     *int            `json:"bat,omitempty"`
	AccuWarn    *bool           `json:"accuWarn,omitempty"`
	LED         *bool           `json:"led,omitempty"`
	Buzzer      *bool           `json:"buz,omitempty"`
	Home        *bool           `json:"home,omitempty"`
	Charging    *bool           `json:"chg,omitempty"`
	SafetyZone  json.RawMessage `json:"safetyZone,omitempty"`
	SWVersion   FlexString      `json:"sw,omitempty"`
	HWVersion   FlexString      `json:"hw,omitempty"`
	LastContact FlexString      `json:"lastContact,omitempty"`
	Mode        *int            `json:"mode,omitempty"`
	CmdNr       *int            `json:"cmdNr,omitempty"`
}

// Key returns the string form of the device id, the key used throughout
// the device map.
func (d *Device) Key() string {
	return strconv.FormatInt(d.ID, 10)
}

// Name returns the collar display name, falling back to the id.
func (d *Device) Name() string {
	if name := d.Details.nameOrEmpty(); name != "" {
		return name
	}
	return "Pet " + d.Key()
}

func (dt *Details) nameOrEmpty() string {
	if dt == nil {
		return ""
	}
	return dt.Name
}

// LastContactTime parses the last contact timestamp, which the service
// reports as seconds or milliseconds, numeric or string. The zero time
// means not reported.
func (d *Device) LastContactTime() time.Time {
	return timestamp.FromUnixMs(timestamp.Parse(string(d.LastContact)))
}

// CurrentMode returns the active tracking mode, preferring the reported
// mode and falling back to the pending command number.
func (d *Device) CurrentMode() (Mode, bool) {
	if d.Mode != nil {
		return Mode(*d.Mode), true
	}
	if d.CmdNr != nil {
		return Mode(*d.CmdNr), true
	}
	return 0, false
}

// Clone returns a deep copy of the device record.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	out := *d
	if d.Details != nil {
		details := *d.Details
		out.Details = &details
	}
	if d.LastPos != nil {
		pos := *d.LastPos
		out.LastPos = clonePosition(&pos)
	}
	out.Battery = cloneInt(d.Battery)
	out.AccuWarn = cloneBool(d.AccuWarn)
	out.LED = cloneBool(d.LED)
	out.Buzzer = cloneBool(d.Buzzer)
	out.Home = cloneBool(d.Home)
	out.Charging = cloneBool(d.Charging)
	out.Mode = cloneInt(d.Mode)
	out.CmdNr = cloneInt(d.CmdNr)
	if d.SafetyZone != nil {
		out.SafetyZone = append(json.RawMessage(nil), d.SafetyZone...)
	}
	return &out
}

func clonePosition(p *Position) *Position {
	out := Position{
		Latitude:   cloneFloat(p.Latitude),
		Longitude:  cloneFloat(p.Longitude),
		Accuracy:   cloneFloat(p.Accuracy),
		HoriPrec:   cloneFloat(p.HoriPrec),
		Satellites: cloneInt(p.Satellites),
	}
	return &out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// Merge applies a partial update onto the receiver. Fields present in the
// update overwrite the cached value; absent fields are left untouched.
// Nested position and details records merge field-wise the same way.
func (d *Device) Merge(update *Device) {
	if update == nil {
		return
	}
	if update.Details != nil {
		if d.Details == nil {
			details := *update.Details
			d.Details = &details
		} else {
			if update.Details.Name != "" {
				d.Details.Name = update.Details.Name
			}
			if update.Details.Image != "" {
				d.Details.Image = update.Details.Image
			}
			if update.Details.Img != "" {
				d.Details.Img = update.Details.Img
			}
		}
	}
	if update.LastPos != nil {
		if d.LastPos == nil {
			d.LastPos = clonePosition(update.LastPos)
		} else {
			if update.LastPos.Latitude != nil {
				d.LastPos.Latitude = cloneFloat(update.LastPos.Latitude)
			}
			if update.LastPos.Longitude != nil {
				d.LastPos.Longitude = cloneFloat(update.LastPos.Longitude)
			}
			if update.LastPos.Accuracy != nil {
				d.LastPos.Accuracy = cloneFloat(update.LastPos.Accuracy)
			}
			if update.LastPos.HoriPrec != nil {
				d.LastPos.HoriPrec = cloneFloat(update.LastPos.HoriPrec)
			}
			if update.LastPos.Satellites != nil {
				d.LastPos.Satellites = cloneInt(update.LastPos.Satellites)
			}
		}
	}
	if update.Battery != nil {
		d.Battery = cloneInt(update.Battery)
	}
	if update.AccuWarn != nil {
		d.AccuWarn = cloneBool(update.AccuWarn)
	}
	if update.LED != nil {
		d.LED = cloneBool(update.LED)
	}
	if update.Buzzer != nil {
		d.Buzzer = cloneBool(update.Buzzer)
	}
	if update.Home != nil {
		d.Home = cloneBool(update.Home)
	}
	if update.Charging != nil {
		d.Charging = cloneBool(update.Charging)
	}
	if update.SafetyZone != nil {
		d.SafetyZone = append(json.RawMessage(nil), update.SafetyZone...)
	}
	if update.SWVersion != "" {
		d.SWVersion = update.SWVersion
	}
	if update.HWVersion != "" {
		d.HWVersion = update.HWVersion
	}
	if update.LastContact != "" {
		d.LastContact = update.LastContact
	}
	if update.Mode != nil {
		d.Mode = cloneInt(update.Mode)
	}
	if update.CmdNr != nil {
		d.CmdNr = cloneInt(update.CmdNr)
	}
}

// ImageURL builds the picture asset URL for the device against the API
// base URL, or returns empty when no picture is configured.
func (d *Device) ImageURL(baseURL string) string {
	name := d.Details.ImageName()
	if name == "" {
		return ""
	}
	return baseURL + "/image/" + name
}
