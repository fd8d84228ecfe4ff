// Package dataset reads prepared frame classification datasets and serves
// them as fixed-size windows for training and as padded whole samples for
// evaluation and prediction.
package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/nzoschke/vak/pkg/labels"
)

// MetadataFilename is the dataset metadata file name.
const MetadataFilename = "metadata.json"

// Split names.
const (
	SplitTrain   = "train"
	SplitVal     = "val"
	SplitTest    = "test"
	SplitPredict = "predict"
)

// Array file suffixes inside split directories.
const (
	FramesSuffix      = ".frames.npy"
	FrameLabelsSuffix = ".frame_labels.npy"
)

// Metadata describes a prepared dataset.
type Metadata struct {
	DatasetCSVFilename string  `json:"dataset_csv_filename"`
	FrameDur           float64 `json:"frame_dur"`
	HasUnlabeled       bool    `json:"has_unlabeled"`
}

// Record is one row of the dataset csv.
type Record struct {
	SpectPath       string  `csv:"spect_path"`
	AnnotPath       string  `csv:"annot_path"`
	Split           string  `csv:"split"`
	Duration        float64 `csv:"duration"`
	FramesPath      string  `csv:"frames_path"`
	FrameLabelsPath string  `csv:"frame_labels_path"`
	CropFrames      int     `csv:"crop_frames"` // keep only the first n frames, 0 keeps all

	root string
}

// Root returns the directory relative paths are resolved against.
func (r Record) Root() string {
	return r.root
}

// WithRoot returns a copy of r resolving relative paths against root.
func (r Record) WithRoot(root string) Record {
	r.root = root
	return r
}

// SpectFile returns the spectrogram file path resolved against the root.
func (r Record) SpectFile() string {
	return r.resolve(r.SpectPath)
}

func (r Record) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.root, p)
}

// Dataset is an opened dataset directory.
type Dataset struct {
	Path     string
	Metadata Metadata
	labelmap labels.Map
	records  []Record
}

// Open reads the metadata, label map and csv of a dataset directory.
func Open(path string) (*Dataset, error) {
	data, err := os.ReadFile(filepath.Join(path, MetadataFilename))
	if err != nil {
		return nil, errors.Wrap(err, "read dataset metadata")
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrapf(err, "parse %s", MetadataFilename)
	}
	if meta.DatasetCSVFilename == "" {
		return nil, errors.Errorf("dataset %s: metadata has no dataset_csv_filename", path)
	}
	if meta.FrameDur <= 0 {
		return nil, errors.Errorf("dataset %s: metadata frame_dur must be positive, got %g", path, meta.FrameDur)
	}

	records, err := ReadRecords(filepath.Join(path, meta.DatasetCSVFilename), path)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Path: path, Metadata: meta, records: records}

	lmPath := filepath.Join(path, labels.Filename)
	if _, err := os.Stat(lmPath); err == nil {
		if ds.labelmap, err = labels.Load(lmPath); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// Create writes a dataset directory's metadata, label map and csv.
// The arrays referenced by records must already be written.
func Create(path string, meta Metadata, lm labels.Map, records []Record) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(path, MetadataFilename), data, 0644); err != nil {
		return errors.Wrap(err, "write dataset metadata")
	}
	if lm != nil {
		if err := lm.Save(filepath.Join(path, labels.Filename)); err != nil {
			return errors.Wrap(err, "write label map")
		}
	}
	return WriteRecords(filepath.Join(path, meta.DatasetCSVFilename), records)
}

// ReadRecords reads a dataset csv, resolving relative paths against root.
func ReadRecords(csvPath, root string) ([]Record, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, errors.Wrap(err, "open dataset csv")
	}
	defer f.Close()

	var records []Record
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, errors.Wrapf(err, "parse dataset csv %s", csvPath)
	}
	for i := range records {
		records[i].root = root
	}
	return records, nil
}

// WriteRecords writes records to a csv.
func WriteRecords(csvPath string, records []Record) error {
	f, err := os.Create(csvPath)
	if err != nil {
		return errors.Wrap(err, "create dataset csv")
	}
	defer f.Close()
	if records == nil {
		records = []Record{}
	}
	return gocsv.MarshalFile(&records, f)
}

// Labelmap returns the dataset's label map, nil when it has none.
func (d *Dataset) Labelmap() labels.Map {
	return d.labelmap
}

// FrameDur returns the duration of one frame in seconds.
func (d *Dataset) FrameDur() float64 {
	return d.Metadata.FrameDur
}

// Records returns all rows.
func (d *Dataset) Records() []Record {
	return append([]Record(nil), d.records...)
}

// Split returns the rows of one split in csv order.
func (d *Dataset) Split(name string) []Record {
	var out []Record
	for _, r := range d.records {
		if r.Split == name {
			out = append(out, r)
		}
	}
	return out
}

// HasSplit reports whether the split has any rows.
func (d *Dataset) HasSplit(name string) bool {
	for _, r := range d.records {
		if r.Split == name {
			return true
		}
	}
	return false
}

// Splits returns the names of non-empty splits, sorted.
func (d *Dataset) Splits() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range d.records {
		if !seen[r.Split] {
			seen[r.Split] = true
			out = append(out, r.Split)
		}
	}
	sort.Strings(out)
	return out
}

// Duration returns the total duration in seconds of a split.
func (d *Dataset) Duration(split string) float64 {
	var total float64
	for _, r := range d.Split(split) {
		total += r.Duration
	}
	return total
}
