// Package corecfg defines the configuration surface consumed by the h2 and
// quic packages. It intentionally does not read records.config or any other
// on-disk format: loading and hot-reload live in the surrounding proxy shell,
// which is treated as an external collaborator (see spec §1, §6). This
// package only defines the decoded shape and sane defaults, and offers
// DecodeMap to adapt an already-parsed map[string]any (as the shell would
// hand us) into Options.
package corecfg

import (
	"time"

	"github.com/mitchellh/mapstructure"
)

// Options is the configuration surface named in spec §6, exhaustive for the
// core. Field names follow the records.config option names via yaml tags so
// that a shell-side loader's decoded map lines up by key without this
// package knowing anything about the on-disk format.
type Options struct {
	// HTTP/2 session & stream timeouts/limits.
	IdleTimeout                time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	AcceptNoActivityTimeout    time.Duration `yaml:"accept_no_activity_timeout" mapstructure:"accept_no_activity_timeout"`
	ActiveTimeout              time.Duration `yaml:"active_timeout" mapstructure:"active_timeout"`
	MaxConcurrentStreamsIn     uint32        `yaml:"max_concurrent_streams_in" mapstructure:"max_concurrent_streams_in"`
	MaxConcurrentStreamsOut    uint32        `yaml:"max_concurrent_streams_out" mapstructure:"max_concurrent_streams_out"`
	InitialWindowSize          uint32        `yaml:"initial_window_size" mapstructure:"initial_window_size"`
	MaxFrameSize               uint32        `yaml:"max_frame_size" mapstructure:"max_frame_size"`
	MaxHeaderListSize          uint32        `yaml:"max_header_list_size" mapstructure:"max_header_list_size"`
	HeaderTableSize            uint32        `yaml:"header_table_size" mapstructure:"header_table_size"`
	WriteBufferBlockSize       uint32        `yaml:"write_buffer_block_size" mapstructure:"write_buffer_block_size"`
	WriteSizeThreshold         uint32        `yaml:"write_size_threshold" mapstructure:"write_size_threshold"`
	WriteTimeThresholdMs       uint32        `yaml:"write_time_threshold_ms" mapstructure:"write_time_threshold_ms"`
	StreamErrorRateThreshold   float64       `yaml:"stream_error_rate_threshold" mapstructure:"stream_error_rate_threshold"`
	MinAvgWindowUpdate         float64       `yaml:"min_avg_window_update" mapstructure:"min_avg_window_update"`
	EnablePriorityTree         bool          `yaml:"enable_priority_tree" mapstructure:"enable_priority_tree"`
	SlowConnectionThreshold    time.Duration `yaml:"slow_connection_threshold" mapstructure:"slow_connection_threshold"`

	// QUIC transport parameters, in/out as named in spec §6.
	NoActivityTimeoutIn         time.Duration `yaml:"no_activity_timeout_in" mapstructure:"no_activity_timeout_in"`
	NoActivityTimeoutOut        time.Duration `yaml:"no_activity_timeout_out" mapstructure:"no_activity_timeout_out"`
	DisableActiveMigration      bool          `yaml:"disable_active_migration" mapstructure:"disable_active_migration"`
	ActiveCIDLimitIn            uint32        `yaml:"active_cid_limit_in" mapstructure:"active_cid_limit_in"`
	MaxRecvUDPPayloadSizeIn     uint32        `yaml:"max_recv_udp_payload_size_in" mapstructure:"max_recv_udp_payload_size_in"`
	MaxSendUDPPayloadSizeIn     uint32        `yaml:"max_send_udp_payload_size_in" mapstructure:"max_send_udp_payload_size_in"`
	InitialMaxDataIn            uint64        `yaml:"initial_max_data_in" mapstructure:"initial_max_data_in"`
	InitialMaxDataOut           uint64        `yaml:"initial_max_data_out" mapstructure:"initial_max_data_out"`
	InitialMaxStreamDataBidiLocalIn   uint64  `yaml:"initial_max_stream_data_bidi_local_in" mapstructure:"initial_max_stream_data_bidi_local_in"`
	InitialMaxStreamDataBidiLocalOut  uint64  `yaml:"initial_max_stream_data_bidi_local_out" mapstructure:"initial_max_stream_data_bidi_local_out"`
	InitialMaxStreamDataBidiRemoteIn  uint64  `yaml:"initial_max_stream_data_bidi_remote_in" mapstructure:"initial_max_stream_data_bidi_remote_in"`
	InitialMaxStreamDataBidiRemoteOut uint64  `yaml:"initial_max_stream_data_bidi_remote_out" mapstructure:"initial_max_stream_data_bidi_remote_out"`
	InitialMaxStreamDataUniIn   uint64        `yaml:"initial_max_stream_data_uni_in" mapstructure:"initial_max_stream_data_uni_in"`
	InitialMaxStreamDataUniOut  uint64        `yaml:"initial_max_stream_data_uni_out" mapstructure:"initial_max_stream_data_uni_out"`
	InitialMaxStreamsBidiIn     uint64        `yaml:"initial_max_streams_bidi_in" mapstructure:"initial_max_streams_bidi_in"`
	InitialMaxStreamsBidiOut    uint64        `yaml:"initial_max_streams_bidi_out" mapstructure:"initial_max_streams_bidi_out"`
	InitialMaxStreamsUniIn      uint64        `yaml:"initial_max_streams_uni_in" mapstructure:"initial_max_streams_uni_in"`
	InitialMaxStreamsUniOut     uint64        `yaml:"initial_max_streams_uni_out" mapstructure:"initial_max_streams_uni_out"`
	AckDelayExponentIn          uint8         `yaml:"ack_delay_exponent_in" mapstructure:"ack_delay_exponent_in"`
	AckDelayExponentOut         uint8         `yaml:"ack_delay_exponent_out" mapstructure:"ack_delay_exponent_out"`
	MaxAckDelayIn               time.Duration `yaml:"max_ack_delay_in" mapstructure:"max_ack_delay_in"`
	MaxAckDelayOut              time.Duration `yaml:"max_ack_delay_out" mapstructure:"max_ack_delay_out"`

	StatelessRetry      bool     `yaml:"stateless_retry" mapstructure:"stateless_retry"`
	ServerCipherSuites  []string `yaml:"server_cipher_suites" mapstructure:"server_cipher_suites"`
	ServerGroupsList    []string `yaml:"server_groups_list" mapstructure:"server_groups_list"`
	OCSPStaplingEnabled bool     `yaml:"ocsp_stapling_enabled" mapstructure:"ocsp_stapling_enabled"`

	// Congestion controller constants, spec §4.5.
	CCMaxDatagramSize              uint32  `yaml:"cc_max_datagram_size" mapstructure:"cc_max_datagram_size"`
	CCInitialWindow                uint32  `yaml:"cc_initial_window" mapstructure:"cc_initial_window"`
	CCMinimumWindow                uint32  `yaml:"cc_minimum_window" mapstructure:"cc_minimum_window"`
	CCLossReductionFactor          float64 `yaml:"cc_loss_reduction_factor" mapstructure:"cc_loss_reduction_factor"`
	CCPersistentCongestionThreshold uint32 `yaml:"cc_persistent_congestion_threshold" mapstructure:"cc_persistent_congestion_threshold"`

	// KeyLogPath, when non-empty, enables SSLKEYLOGFILE-format secret
	// logging for the QUIC TLS key schedule (spec §4.4).
	KeyLogPath string `yaml:"key_log_path" mapstructure:"key_log_path"`
}

// Default returns the option set used when the shell hands us nothing,
// matching the constants implied by spec §4.5 and common HTTP/2 defaults.
func Default() Options {
	return Options{
		IdleTimeout:              30 * time.Second,
		AcceptNoActivityTimeout:  120 * time.Second,
		ActiveTimeout:            0,
		MaxConcurrentStreamsIn:   100,
		MaxConcurrentStreamsOut:  100,
		InitialWindowSize:        65535,
		MaxFrameSize:             16384,
		MaxHeaderListSize:        1 << 20,
		HeaderTableSize:          4096,
		WriteBufferBlockSize:     32 * 1024,
		WriteSizeThreshold:       16 * 1024,
		WriteTimeThresholdMs:     100,
		StreamErrorRateThreshold: 0.5,
		MinAvgWindowUpdate:       1024,
		EnablePriorityTree:       false,
		SlowConnectionThreshold:  5 * time.Second,

		NoActivityTimeoutIn:    120 * time.Second,
		NoActivityTimeoutOut:   120 * time.Second,
		ActiveCIDLimitIn:       4,
		MaxRecvUDPPayloadSizeIn: 1452,
		MaxSendUDPPayloadSizeIn: 1452,
		InitialMaxDataIn:       15 << 20,
		InitialMaxDataOut:      15 << 20,
		InitialMaxStreamDataBidiLocalIn:   6 << 20,
		InitialMaxStreamDataBidiLocalOut:  6 << 20,
		InitialMaxStreamDataBidiRemoteIn:  6 << 20,
		InitialMaxStreamDataBidiRemoteOut: 6 << 20,
		InitialMaxStreamDataUniIn:  6 << 20,
		InitialMaxStreamDataUniOut: 6 << 20,
		InitialMaxStreamsBidiIn:    100,
		InitialMaxStreamsBidiOut:   100,
		InitialMaxStreamsUniIn:     100,
		InitialMaxStreamsUniOut:    100,
		AckDelayExponentIn:         3,
		AckDelayExponentOut:        3,
		MaxAckDelayIn:              25 * time.Millisecond,
		MaxAckDelayOut:             25 * time.Millisecond,

		StatelessRetry:      false,
		OCSPStaplingEnabled: false,

		CCMaxDatagramSize:               1252,
		CCInitialWindow:                 10 * 1252,
		CCMinimumWindow:                 2 * 1252,
		CCLossReductionFactor:           0.5,
		CCPersistentCongestionThreshold: 3,
	}
}

// ActiveTimeoutOrZero returns ActiveTimeout, or zero meaning "no active
// deadline" — a zero-value time.Time marks the deadline unset per stream
// and connection code treating ActiveTimeout == 0 as disabled.
func (o Options) ActiveTimeoutOrZero() time.Duration { return o.ActiveTimeout }

// DecodeMap decodes a generic options map (as handed down by the shell's
// records.config loader) on top of the defaults, via mapstructure so that
// unknown keys are simply ignored rather than rejected.
func DecodeMap(raw map[string]any) (Options, error) {
	opts := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(raw); err != nil {
		return opts, err
	}
	return opts, nil
}
