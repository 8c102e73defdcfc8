/*
NAME
  main.go

DESCRIPTION
  bdmux is a BDAV MPEG-2 transport stream multiplexer: it reads a META
  file describing one program's elementary stream tracks, analyzes (or
  reuses a cached analysis of) each track into an ESMS script, builds
  the PAT/PMT/SIT, allocates PIDs and buffer-model branches, and drives
  the mux scheduler to a file or S3 destination.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

// Command bdmux multiplexes elementary streams into a BDAV transport stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"

	"github.com/nautilusav/bdmux/clock"
	"github.com/nautilusav/bdmux/codec"
	_ "github.com/nautilusav/bdmux/codec/ac3"
	_ "github.com/nautilusav/bdmux/codec/dts"
	_ "github.com/nautilusav/bdmux/codec/h262"
	_ "github.com/nautilusav/bdmux/codec/h264"
	_ "github.com/nautilusav/bdmux/codec/hdmv"
	_ "github.com/nautilusav/bdmux/codec/lpcm"
	"github.com/nautilusav/bdmux/esms"
	"github.com/nautilusav/bdmux/logging"
	"github.com/nautilusav/bdmux/meta"
	"github.com/nautilusav/bdmux/muxcfg"
	"github.com/nautilusav/bdmux/muxmetrics"
	"github.com/nautilusav/bdmux/scheduler"
	"github.com/nautilusav/bdmux/scriptcache"
	"github.com/nautilusav/bdmux/sink"
	"github.com/nautilusav/bdmux/stdbuf"
	"github.com/nautilusav/bdmux/ts"
	"github.com/nautilusav/bdmux/ts/pes"
	"github.com/nautilusav/bdmux/ts/psi"
)

// BDAV-STD buffer defaults, bits and bits/sec. These approximate typical
// transport/multiplex/elementary buffer sizes closely enough to catch a
// genuinely overcommitted mux without being a faithful per-codec profile
// table.
const (
	tbCapacityBits   = 512 * 8
	tbLeakBitsPerSec = 48_000_000
	mbCapacityVideo  = 28 * 8 * 1024
	ebCapacityVideo  = 16 * 1024 * 1024 * 8
	ebCapacityAudio  = 4 * 1024 * 8
	ebCapacityHDMV   = 4 * 1024 * 1024 * 8
	ebCapacitySystem = 4 * 1024 * 8 // Shared PAT/PMT/SIT/PCR/NULL buffer.
)

func main() {
	os.Exit(run())
}

// preparedStream is one track's fully resolved mux-time state, collected
// in a first pass over the META file's tracks before the scheduler (and
// the PAT/PMT it needs the PCR PID decision for) is built.
type preparedStream struct {
	mst  *scheduler.Stream
	pid  uint16
	ct   esms.CodingType
	sec  bool
	vfmt *esms.VideoFmtProperties
	afmt *esms.AudioFmtProperties
}

func run() int {
	metaPath := flag.String("meta", "", "path to the META file describing the mux (required)")
	iniPath := flag.String("ini", "", "path to the mux configuration INI file")
	outPath := flag.String("out", "", "output file path for the muxed transport stream")
	s3Bucket := flag.String("s3-bucket", "", "S3 bucket to stream output to, instead of -out")
	s3Key := flag.String("s3-key", "", "S3 object key to stream output to (requires -s3-bucket)")
	cachePath := flag.String("scriptcache", "", "path to a script cache database; empty disables caching")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on; empty disables")
	logPath := flag.String("log", "", "path to a rotating JSON log file; empty logs to stderr only")
	debugOverride := flag.Uint("debug", 0, "debug category bitmap, OR'd with the INI file's")
	flag.Parse()

	if *metaPath == "" {
		fmt.Fprintln(os.Stderr, "bdmux: -meta is required")
		return 2
	}
	if *outPath == "" && (*s3Bucket == "" || *s3Key == "") {
		fmt.Fprintln(os.Stderr, "bdmux: either -out or both -s3-bucket and -s3-key are required")
		return 2
	}

	log := logging.New(*logPath, 100, 5, logging.Info)

	cfg := muxcfg.Default()
	if *iniPath != "" {
		loaded, err := muxcfg.Load(*iniPath)
		if err != nil {
			log.Error("loading mux configuration", "path", *iniPath, "error", err)
			return 1
		}
		cfg = loaded
	}
	cfg.Debug |= uint32(*debugOverride)

	mf, err := os.Open(*metaPath)
	if err != nil {
		log.Error("opening META file", "path", *metaPath, "error", err)
		return 1
	}
	desc, err := meta.Parse(mf)
	mf.Close()
	if err != nil {
		log.Error("parsing META file", "path", *metaPath, "error", err)
		return 1
	}

	var cache *scriptcache.Catalog
	if *cachePath != "" {
		cache, err = scriptcache.Open(*cachePath)
		if err != nil {
			log.Error("opening script cache", "path", *cachePath, "error", err)
			return 1
		}
		defer cache.Close()
	}

	muxRate := desc.Global.MuxRate
	if muxRate == 0 {
		muxRate = cfg.DefaultMuxRate
	}
	startTime := desc.Global.StartTime
	if startTime == 0 {
		startTime = cfg.DefaultStartTime
	}
	startPCR := clock.RoundTo90kHz(clock.SubToMaster(startTime))

	alloc := ts.NewAllocator()

	var prepared []preparedStream
	var pcrPID *uint16
	for _, track := range desc.Tracks {
		reader, ct, prepare, vfmt, afmt, err := buildStream(cache, track, log)
		if err != nil {
			log.Error("building track", "path", track.Path, "error", err)
			return 1
		}

		class := classFor(ct, track.Options.Secondary)
		pid, err := alloc.Allocate(class, 0)
		if err != nil {
			log.Error("allocating PID", "path", track.Path, "error", err)
			return 1
		}

		branch := buildBranch(class, desc.Global.DisableTSTD)
		streamID, streamIDExt, hasIDExt := streamIDFor(ct)
		mst, err := scheduler.NewStream(pid, streamID, streamIDExt, hasIDExt, reader, branch, prepare)
		if err != nil {
			log.Error("constructing scheduler stream", "path", track.Path, "error", err)
			return 1
		}

		if pcrPID == nil && isVideoClass(class) {
			p := pid
			pcrPID = &p
		}

		prepared = append(prepared, preparedStream{
			mst: mst, pid: pid, ct: ct, sec: track.Options.Secondary, vfmt: vfmt, afmt: afmt,
		})
	}

	inBandPCR := pcrPID != nil
	if pcrPID == nil {
		p := uint16(ts.PIDPcr)
		pcrPID = &p
	}

	var out io.WriteCloser
	if *outPath != "" {
		out, err = sink.NewFileSink(*outPath)
	} else {
		out, err = sink.NewS3Sink(context.Background(), *s3Bucket, *s3Key)
	}
	if err != nil {
		log.Error("opening output sink", "error", err)
		return 1
	}
	defer out.Close()

	var metrics *muxmetrics.Metrics
	if *metricsAddr != "" {
		metrics = muxmetrics.New()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Error("metrics server exited", "error", http.ListenAndServe(*metricsAddr, mux))
		}()
	}

	summary := &summaryRecorder{perPID: map[uint16]uint64{}}
	var recorder muxmetrics.Recorder = summary
	if metrics != nil {
		recorder = multiRecorder{summary, metrics}
	}

	schedCfg := scheduler.Config{
		MuxRate:       muxRate,
		CBR:           desc.Global.CBR,
		StartPCR:      startPCR,
		NoExtraHeader: desc.Global.NoExtraHeader,
		BufferModel:   !desc.Global.DisableTSTD,
		SystemBranch:  buildSystemBranch(desc.Global.DisableTSTD),
		Log:           log,
		Metrics:       recorder,
	}
	if inBandPCR {
		schedCfg.PCRPID = pcrPID
	}
	sched := scheduler.New(schedCfg, out)

	var pmtStreams []psi.Stream
	for _, p := range prepared {
		if inBandPCR && p.pid == *pcrPID {
			p.mst.CarriesPCR = true
		}
		if err := sched.AddStream(p.mst); err != nil {
			log.Error("registering stream", "pid", p.pid, "error", err)
			return 1
		}
		pmtStreams = append(pmtStreams, psi.Stream{
			StreamType:  streamType(p.ct, p.sec),
			PID:         p.pid,
			Descriptors: elementDescriptors(p.ct, p.sec, p.vfmt, p.afmt),
		})
	}

	pat := psi.NewPAT(
		psi.Program{Number: 0, PMTPID: ts.PIDSit},
		psi.Program{Number: 1, PMTPID: ts.PIDPmt},
	)
	progDescs := []psi.Descriptor{psi.ProgramRegistration(), psi.DTCPDescriptor{}.Bytes()}
	pmt := psi.NewPMT(*pcrPID, progDescs, pmtStreams...)
	sit := psi.NewSIT(psi.PartialTSDescriptor{PeakRate: uint32(muxRate / 400)}.Bytes())

	sched.AddSystemTable(ts.PIDPat, scheduler.PriorityPAT, pat.Bytes(), false, false, clock.MasterHz/20)
	sched.AddSystemTable(ts.PIDPmt, scheduler.PriorityPMT, pmt.Bytes(), false, false, clock.MasterHz/20)
	sched.AddSystemTable(ts.PIDSit, scheduler.PrioritySIT, sit.Bytes(), false, false, clock.MasterHz/2)
	sched.AddSystemTable(*pcrPID, scheduler.PriorityPCR, nil, true, false, scheduler.PCRDelay)

	if err := sched.Run(); err != nil {
		log.Error("mux run failed", "error", err)
		return 1
	}

	fmt.Printf("bdmux: wrote %d packets (%d bytes)\n", sched.PacketsWritten, sched.BytesWritten)
	for pid, n := range summary.perPID {
		fmt.Printf("  pid 0x%04x: %d bytes\n", pid, n)
	}
	return 0
}

// buildStream resolves one META track into an open *esms.Reader, either
// by trusting a fresh script-cache hit or by running the matching codec
// parser's Analyze.
func buildStream(cache *scriptcache.Catalog, track meta.Track, log logging.Logger) (*esms.Reader, esms.CodingType, codec.PreparePESHeader, *esms.VideoFmtProperties, *esms.AudioFmtProperties, error) {
	ct, err := initialCodingType(track.Codec)
	if err != nil {
		return nil, 0, nil, nil, nil, err
	}

	scriptPath := track.Options.ESMSPath
	if scriptPath == "" {
		scriptPath = track.Path + ".esms"
	}

	flags := optionFlags(track.Options)

	if reader, ok := tryFresh(cache, track.Path, scriptPath, flags); ok {
		// A cached script carries no live Parser to source a Prepare
		// callback from; every registered parser's Prepare is either Nop
		// or (h264's) a currently-inert placeholder, so this is safe.
		return reader, reader.Properties.CodingType, codec.NopPreparePESHeader, reader.VideoFmt, reader.AudioFmt, nil
	}

	parser := codec.Lookup(ct)
	if parser == nil {
		return nil, 0, nil, nil, nil, errors.Errorf("no codec parser registered for %q", track.Codec)
	}

	settings := &codec.ParsingSettings{
		InputPath:            track.Path,
		ScriptPath:           scriptPath,
		OptionFlags:          flags,
		FPS:                  track.Options.FPS,
		HasFPS:               track.Options.HasFPS(),
		ARWidth:              track.Options.ARWidth,
		ARHeight:             track.Options.ARHeight,
		HasAR:                track.Options.HasAR(),
		Level:                track.Options.Level,
		RemoveSEI:            track.Options.RemoveSEI,
		DisableHRD:           track.Options.DisableHRDVerif,
		PBRStatsPath:         track.Options.PBRPath,
		Core:                 track.Options.Core,
		Secondary:            track.Options.Secondary,
		HDMVInitialTimestamp: track.Options.HDMVInitialTimestamp,
		HDMVHasInitialTS:     track.Options.HDMVInitialTimestamp != 0,
		HDMVForceRetiming:    track.Options.HDMVForceRetiming,
		Log:                  log,
	}

	result, restart, err := parser.Analyze(settings)
	if restart {
		settings.Restart = true
		result, _, err = parser.Analyze(settings)
	}
	if err != nil {
		return nil, 0, nil, nil, nil, errors.Wrapf(err, "analyzing %q", track.Path)
	}

	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, 0, nil, nil, nil, errors.Wrapf(err, "reading script %q", scriptPath)
	}
	reader, err := esms.NewReader(data)
	if err != nil {
		return nil, 0, nil, nil, nil, errors.Wrapf(err, "parsing script %q", scriptPath)
	}

	if cache != nil {
		for _, s := range reader.Properties.Sources {
			if s.Path == track.Path {
				if err := cache.Record(track.Path, scriptPath, s.CRC, s.N); err != nil {
					log.Warning("recording script cache entry", "path", track.Path, "error", err)
				}
				break
			}
		}
	}

	return reader, result.CodingType, result.Prepare, reader.VideoFmt, reader.AudioFmt, nil
}

// tryFresh checks the script cache for a candidate script (falling back
// to the script file itself on a cache miss or with no cache configured),
// then confirms it with esms.Reader.Validate before trusting it.
func tryFresh(cache *scriptcache.Catalog, sourcePath, scriptPath string, flags uint32) (*esms.Reader, bool) {
	candidate := scriptPath
	if cache != nil {
		if path, ok, err := cache.Fresh(sourcePath); err == nil && ok {
			candidate = path
		}
	}
	if candidate == scriptPath {
		if _, err := os.Stat(scriptPath); err != nil {
			return nil, false
		}
	}

	data, err := os.ReadFile(candidate)
	if err != nil {
		return nil, false
	}
	reader, err := esms.NewReader(data)
	if err != nil {
		return nil, false
	}
	if err := reader.Validate(flags); err != nil {
		return nil, false
	}
	return reader, true
}

// initialCodingType maps a META codec keyword to its ESMS coding type.
// File-type sniffing from a bare elementary stream is unreliable enough
// that bdmux never attempts it: AUTO always fails.
func initialCodingType(codecKeyword string) (esms.CodingType, error) {
	switch codecKeyword {
	case meta.VMPEG2:
		return esms.CodingMPEG1, nil
	case meta.VH262:
		return esms.CodingH262, nil
	case meta.VMPEG4AVC, meta.VH264:
		return esms.CodingAVC, nil
	case meta.ALPCM:
		return esms.CodingLPCM, nil
	case meta.AAC3:
		return esms.CodingAC3, nil
	case meta.ADTS:
		return esms.CodingDTS, nil
	case meta.MHDMVPGS:
		return esms.CodingPG, nil
	case meta.MHDMVIGS:
		return esms.CodingIG, nil
	case meta.Auto:
		return 0, errors.New("AUTO codec detection is not supported; a stream's coding type cannot be reliably guessed from its contents alone")
	default:
		return 0, errors.Errorf("unhandled codec keyword %q", codecKeyword)
	}
}

// optionFlags folds a track's options into the bitmask ESMS scripts
// record and Validate checks on reuse.
func optionFlags(o meta.TrackOptions) uint32 {
	var f uint32
	if o.HasFPS() {
		f |= 1 << 0
	}
	if o.HasAR() {
		f |= 1 << 1
	}
	if o.RemoveSEI {
		f |= 1 << 2
	}
	if o.DisableHRDVerif {
		f |= 1 << 3
	}
	if o.Core {
		f |= 1 << 4
	}
	if o.Secondary {
		f |= 1 << 5
	}
	if o.HDMVForceRetiming {
		f |= 1 << 6
	}
	return f
}

func isVideoCoding(ct esms.CodingType) bool {
	switch ct {
	case esms.CodingMPEG1, esms.CodingH262, esms.CodingAVC:
		return true
	}
	return false
}

func isAC3Family(ct esms.CodingType) bool {
	switch ct {
	case esms.CodingAC3, esms.CodingEAC3, esms.CodingTrueHD:
		return true
	}
	return false
}

func isDTSFamily(ct esms.CodingType) bool {
	switch ct {
	case esms.CodingDTS, esms.CodingDTSHDHR, esms.CodingDTSHDMA, esms.CodingDTSExpress:
		return true
	}
	return false
}

func isVideoClass(c ts.StreamClass) bool {
	return c == ts.ClassPrimaryVideo || c == ts.ClassSecondaryVideo
}

// classFor maps a coding type plus its track's --secondary option to a
// reserved PID band.
func classFor(ct esms.CodingType, secondary bool) ts.StreamClass {
	switch {
	case isVideoCoding(ct):
		if secondary {
			return ts.ClassSecondaryVideo
		}
		return ts.ClassPrimaryVideo
	case ct == esms.CodingPG:
		return ts.ClassPG
	case ct == esms.CodingIG:
		return ts.ClassIG
	default:
		if secondary {
			return ts.ClassSecondaryAudio
		}
		return ts.ClassPrimaryAudio
	}
}

// streamType maps a coding type (and, for the enhanced-AC-3 and DTS
// express cases, whether the track is a secondary audio substream) to
// the PMT stream_type byte carried on the wire.
func streamType(ct esms.CodingType, secondary bool) byte {
	switch ct {
	case esms.CodingMPEG1:
		return 0x01
	case esms.CodingH262:
		return 0x02
	case esms.CodingAVC:
		return 0x1B
	case esms.CodingLPCM:
		return 0x80
	case esms.CodingAC3:
		return 0x81
	case esms.CodingEAC3:
		if secondary {
			return 0xA1
		}
		return 0x84
	case esms.CodingTrueHD:
		return 0x83
	case esms.CodingDTS:
		return 0x82
	case esms.CodingDTSHDHR:
		return 0x85
	case esms.CodingDTSHDMA:
		return 0x86
	case esms.CodingDTSExpress:
		return 0xA2
	case esms.CodingPG:
		return 0x90
	case esms.CodingIG:
		return 0x91
	default:
		return 0
	}
}

// streamIDFor picks the PES stream_id (and, for the AC-3/DTS family, the
// stream_id_extension) a coding type's packets carry.
func streamIDFor(ct esms.CodingType) (streamID, streamIDExt byte, hasExt bool) {
	switch {
	case isVideoCoding(ct):
		return pes.SIDVideo, 0, false
	case ct == esms.CodingLPCM, ct == esms.CodingPG, ct == esms.CodingIG:
		return pes.SIDPrivateStream1, 0, false
	case isAC3Family(ct) || isDTSFamily(ct):
		return pes.SIDExtendedStream, pes.StreamIDExtPrimary, true
	default:
		return pes.SIDPrivateStream1, 0, false
	}
}

// buildBranch constructs the buffer-model branch for a stream class, or
// nil when the buffer model is disabled.
func buildBranch(class ts.StreamClass, disableTSTD bool) *stdbuf.Branch {
	if disableTSTD {
		return nil
	}
	if isVideoClass(class) {
		return stdbuf.NewVideoBranch(tbCapacityBits, mbCapacityVideo, ebCapacityVideo, tbLeakBitsPerSec)
	}
	if class == ts.ClassPG || class == ts.ClassIG {
		return stdbuf.NewSimpleBranch(tbCapacityBits, ebCapacityHDMV, tbLeakBitsPerSec)
	}
	return stdbuf.NewSimpleBranch(tbCapacityBits, ebCapacityAudio, tbLeakBitsPerSec)
}

// buildSystemBranch constructs the shared buffer-model branch PAT/PMT/SIT/
// PCR/NULL packets are admitted against, or nil when the buffer model is
// disabled.
func buildSystemBranch(disableTSTD bool) *stdbuf.Branch {
	if disableTSTD {
		return nil
	}
	return stdbuf.NewSimpleBranch(tbCapacityBits, ebCapacitySystem, tbLeakBitsPerSec)
}

// elementDescriptors builds a PMT elementary stream's descriptor loop: a
// registration descriptor naming its carrier (HDMV, AC-3 or VC-1), plus
// any coding-specific descriptor the wire format also carries.
func elementDescriptors(ct esms.CodingType, secondary bool, vfmt *esms.VideoFmtProperties, afmt *esms.AudioFmtProperties) []psi.Descriptor {
	var descs []psi.Descriptor
	switch {
	case isVideoCoding(ct):
		videoFormat, frameRate := byte(0), byte(0)
		if vfmt != nil {
			videoFormat = videoFormatCode(vfmt.Height)
			frameRate = bdFrameRateCode(vfmt.FrameRateCode)
		}
		descs = append(descs, psi.HDMVVideoRegistration(streamType(ct, secondary), videoFormat, frameRate))
		if ct == esms.CodingAVC && vfmt != nil && vfmt.H264 != nil {
			descs = append(descs, psi.AVCVideoDescriptor{
				ProfileIDC:      vfmt.H264.ProfileIDC,
				ConstraintFlags: vfmt.H264.ConstraintFlags,
				LevelIDC:        vfmt.H264.LevelIDC,
			}.Bytes())
		}
	case ct == esms.CodingLPCM:
		sampleRateCode, bitDepthCode := byte(0), byte(0)
		if afmt != nil {
			sampleRateCode = lpcmSampleRateCode(afmt.SampleRate)
			bitDepthCode = lpcmBitDepthCode(afmt.BitDepth)
		}
		descs = append(descs, psi.HDMVLPCMRegistration(streamType(ct, secondary), 0, sampleRateCode, bitDepthCode))
	case isAC3Family(ct):
		descs = append(descs, psi.AC3FamilyRegistration())
		if afmt != nil && afmt.AC3 != nil {
			descs = append(descs, psi.AC3AudioDescriptor{
				SampleRateCode: ac3SampleRateCode(afmt.SampleRate),
				BSID:           afmt.AC3.BSID,
				BitRateCode:    afmt.AC3.BitRateCode,
				SurroundMode:   afmt.AC3.SurroundMode,
				BSModeMode:     afmt.AC3.BSMode,
				NumChannels:    afmt.AC3.NumChannels,
				FullSVC:        afmt.AC3.FullSVC,
			}.Bytes())
		}
	default:
		// DTS family, PG and IG carry only the bare "HDMV" format
		// registration; no documented additional_identification_info layout
		// exists for them beyond the video and LPCM cases.
		descs = append(descs, psi.ProgramRegistration())
	}
	return descs
}

func videoFormatCode(height uint16) byte {
	switch height {
	case 480:
		return 1
	case 576:
		return 2
	case 720:
		return 5
	case 1080:
		return 4
	default:
		return 0
	}
}

// bdFrameRateTable maps an ESMS frame_rate_code (the MPEG-2 sequence
// header's 4-bit encoding) to the BD registration descriptor's 4-bit
// frame_rate field.
var bdFrameRateTable = [16]byte{0, 1, 2, 3, 4, 4, 5, 6, 6, 0, 0, 0, 0, 0, 0, 0}

func bdFrameRateCode(code byte) byte {
	if int(code) < len(bdFrameRateTable) {
		return bdFrameRateTable[code]
	}
	return 0
}

func lpcmSampleRateCode(rate uint32) byte {
	switch rate {
	case 48000:
		return 1
	case 96000:
		return 4
	case 192000:
		return 5
	default:
		return 0
	}
}

func lpcmBitDepthCode(depth byte) byte {
	switch depth {
	case 16:
		return 1
	case 20:
		return 2
	case 24:
		return 3
	default:
		return 0
	}
}

func ac3SampleRateCode(rate uint32) byte {
	switch rate {
	case 48000:
		return 0
	case 44100:
		return 1
	case 32000:
		return 2
	default:
		return 7
	}
}

// summaryRecorder accumulates the end-of-run per-PID byte totals printed
// to stdout; PacketsWritten/BytesWritten overall are read directly off
// the Scheduler.
type summaryRecorder struct {
	perPID map[uint16]uint64
}

func (s *summaryRecorder) PacketWritten(pid uint16, n int) {
	s.perPID[pid] += uint64(n)
}

func (s *summaryRecorder) Overflow() {}

// multiRecorder fans PacketWritten/Overflow calls out to several
// Recorders, so the console summary and an optional Prometheus exporter
// can both observe the same mux run.
type multiRecorder []muxmetrics.Recorder

func (m multiRecorder) PacketWritten(pid uint16, n int) {
	for _, r := range m {
		r.PacketWritten(pid, n)
	}
}

func (m multiRecorder) Overflow() {
	for _, r := range m {
		r.Overflow()
	}
}
