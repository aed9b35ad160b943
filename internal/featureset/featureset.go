// Package featureset holds the "enable X" switches for one telemetry
// application. Every accessor folds in the mission capability it depends
// on, so a flag never reads enabled when the mission cannot support it.
package featureset

import (
	"fmt"

	"github.com/turtacn/telemos/internal/config"
)

// App selects the property namespace.
type App string

const (
	AppDownlink App = "downlink"
	AppProcess  App = "process"
)

// Property name suffixes under <app>.services.
const (
	keyFrameSync           = "frameSync"
	keyPacketExtract       = "packetExtract"
	keyPacketHeader        = "packetHeaderChannelizer"
	keyFrameHeader         = "frameHeaderChannelizer"
	keySfduHeader          = "sfduHeaderChannelizer"
	keyPreChannelizedDecom = "preChannelizedDecom"
	keyEvrDecom            = "evrDecom"
	keyProductGen          = "productGen"
	keyPduExtract          = "pduExtract"
	keyTimeCorr            = "timeCorr"
	keyGenericChannelDecom = "genericChannelDecom"
	keyGenericEvrDecom     = "genericEvrDecom"
	keyAlarms              = "alarms"
	keyEhaAggregation      = "ehaAggregation"
	keyOngoingDb           = "ongoingDb"
	keyMiscClasses         = "miscellaneous.managerClasses"
	keyMiscEnable          = "miscellaneous.enable"
)

// FeatureSet is loaded once per application start. The setters exist for
// command-line and test overrides and must only be used before a session
// starts.
type FeatureSet struct {
	app     App
	mission config.MissionCapabilities

	frameSync           bool
	packetExtract       bool
	packetHeader        bool
	frameHeader         bool
	sfduHeader          bool
	preChannelizedDecom bool
	evrDecom            bool
	productGen          bool
	pduExtract          bool
	timeCorr            bool
	genericChannelDecom bool
	genericEvrDecom     bool
	alarms              bool
	ehaAggregation      bool
	ongoingDbMode       bool

	miscFeatures []string
	miscEnabled  bool
}

// Key returns the full property key for a service flag of app.
func Key(app App, feature string) string {
	if feature == keyMiscClasses {
		return fmt.Sprintf("%s.services.%s", app, feature)
	}
	return fmt.Sprintf("%s.services.%s.enable", app, feature)
}

// Load builds a FeatureSet from props. Absent keys take their defaults.
func Load(props *config.Properties, mission config.MissionCapabilities, app App) *FeatureSet {
	get := func(feature string, def bool) bool {
		return props.GetBool(Key(app, feature), def)
	}

	fs := &FeatureSet{
		app:                 app,
		mission:             mission,
		frameSync:           get(keyFrameSync, true),
		packetExtract:       get(keyPacketExtract, true),
		packetHeader:        get(keyPacketHeader, false),
		frameHeader:         get(keyFrameHeader, false),
		sfduHeader:          get(keySfduHeader, false),
		preChannelizedDecom: get(keyPreChannelizedDecom, true),
		evrDecom:            get(keyEvrDecom, true),
		productGen:          get(keyProductGen, true),
		pduExtract:          get(keyPduExtract, false),
		timeCorr:            get(keyTimeCorr, false),
		genericChannelDecom: get(keyGenericChannelDecom, true),
		genericEvrDecom:     get(keyGenericEvrDecom, true),
		alarms:              get(keyAlarms, true),
		ongoingDbMode:       get(keyOngoingDb, false),
		miscFeatures:        props.GetList(Key(app, keyMiscClasses)),
	}
	if app == AppProcess {
		fs.ehaAggregation = get(keyEhaAggregation, true)
	}
	// The misc enable switch is only meaningful with something to enable.
	if len(fs.miscFeatures) > 0 {
		fs.miscEnabled = props.GetBool(fmt.Sprintf("%s.services.%s", app, keyMiscEnable), false)
	}
	return fs
}

func (fs *FeatureSet) App() App                              { return fs.app }
func (fs *FeatureSet) Mission() config.MissionCapabilities   { return fs.mission }
func (fs *FeatureSet) IsEnableFrameSync() bool               { return fs.frameSync }
func (fs *FeatureSet) IsEnablePacketExtract() bool           { return fs.packetExtract }
func (fs *FeatureSet) IsEnablePduExtract() bool              { return fs.pduExtract }
func (fs *FeatureSet) IsEnableTimeCorr() bool                { return fs.timeCorr }
func (fs *FeatureSet) IsOngoingDbMode() bool                 { return fs.ongoingDbMode }
func (fs *FeatureSet) IsEnableMiscFeatures() bool            { return fs.miscEnabled }
func (fs *FeatureSet) IsEnableEvrDecom() bool                { return fs.evrDecom && fs.mission.EvrEnabled }
func (fs *FeatureSet) IsEnableGenericEvrDecom() bool         { return fs.genericEvrDecom && fs.mission.EvrEnabled }
func (fs *FeatureSet) IsEnableProductGen() bool              { return fs.productGen && fs.mission.ProductEnabled }
func (fs *FeatureSet) IsEnablePreChannelizedDecom() bool     { return fs.preChannelizedDecom && fs.mission.EhaEnabled }
func (fs *FeatureSet) IsEnableGenericChannelDecom() bool     { return fs.genericChannelDecom && fs.mission.EhaEnabled }
func (fs *FeatureSet) IsEnableAlarms() bool                  { return fs.alarms && fs.mission.EhaEnabled }
func (fs *FeatureSet) IsEnableEhaAggregation() bool          { return fs.ehaAggregation && fs.mission.EhaEnabled }
func (fs *FeatureSet) IsEnableFrameHeaderChannelizer() bool  { return fs.frameHeader && fs.mission.EhaEnabled }
func (fs *FeatureSet) IsEnablePacketHeaderChannelizer() bool { return fs.packetHeader && fs.mission.EhaEnabled }
func (fs *FeatureSet) IsEnableSfduHeaderChannelizer() bool   { return fs.sfduHeader && fs.mission.EhaEnabled }

// IsEnableAnyHeaderChannelizer is recomputed on every call so it always
// agrees with the three sub-flags.
func (fs *FeatureSet) IsEnableAnyHeaderChannelizer() bool {
	return fs.IsEnableFrameHeaderChannelizer() ||
		fs.IsEnablePacketHeaderChannelizer() ||
		fs.IsEnableSfduHeaderChannelizer()
}

// MiscFeatures returns a copy of the configured extra manager names.
func (fs *FeatureSet) MiscFeatures() []string {
	return append([]string(nil), fs.miscFeatures...)
}

func (fs *FeatureSet) SetEnableFrameSync(v bool)               { fs.frameSync = v }
func (fs *FeatureSet) SetEnablePacketExtract(v bool)           { fs.packetExtract = v }
func (fs *FeatureSet) SetEnablePacketHeaderChannelizer(v bool) { fs.packetHeader = v }
func (fs *FeatureSet) SetEnableFrameHeaderChannelizer(v bool)  { fs.frameHeader = v }
func (fs *FeatureSet) SetEnableSfduHeaderChannelizer(v bool)   { fs.sfduHeader = v }
func (fs *FeatureSet) SetEnablePreChannelizedDecom(v bool)     { fs.preChannelizedDecom = v }
func (fs *FeatureSet) SetEnableEvrDecom(v bool)                { fs.evrDecom = v }
func (fs *FeatureSet) SetEnableProductGen(v bool)              { fs.productGen = v }
func (fs *FeatureSet) SetEnablePduExtract(v bool)              { fs.pduExtract = v }
func (fs *FeatureSet) SetEnableTimeCorr(v bool)                { fs.timeCorr = v }
func (fs *FeatureSet) SetEnableGenericChannelDecom(v bool)     { fs.genericChannelDecom = v }
func (fs *FeatureSet) SetEnableGenericEvrDecom(v bool)         { fs.genericEvrDecom = v }
func (fs *FeatureSet) SetEnableAlarms(v bool)                  { fs.alarms = v }
func (fs *FeatureSet) SetEnableEhaAggregation(v bool)          { fs.ehaAggregation = v }
func (fs *FeatureSet) SetOngoingDbMode(v bool)                 { fs.ongoingDbMode = v }

// SetMiscFeatures replaces the extra manager list. Clearing the list also
// clears the misc enable switch.
func (fs *FeatureSet) SetMiscFeatures(names []string, enabled bool) {
	fs.miscFeatures = append([]string(nil), names...)
	fs.miscEnabled = enabled && len(fs.miscFeatures) > 0
}

// Personal.AI order the ending
