package tableformat

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
)

// Action is one line of a commit file. Exactly one field is set.
type Action struct {
	Protocol   *Protocol   `json:"protocol,omitempty"`
	MetaData   *Metadata   `json:"metaData,omitempty"`
	Add        *AddFile    `json:"add,omitempty"`
	Remove     *RemoveFile `json:"remove,omitempty"`
	CommitInfo *CommitInfo `json:"commitInfo,omitempty"`
}

type Protocol struct {
	MinReaderVersion int `json:"minReaderVersion"`
	MinWriterVersion int `json:"minWriterVersion"`
}

type Format struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options"`
}

type Metadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Format           Format            `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration"`
	CreatedTime      int64             `json:"createdTime,omitempty"`
}

// AddFile registers a data file. Paths are relative to the table root and
// URL-escaped.
type AddFile struct {
	Path             string             `json:"path"`
	PartitionValues  map[string]*string `json:"partitionValues"`
	Size             int64              `json:"size"`
	ModificationTime int64              `json:"modificationTime"`
	DataChange       bool               `json:"dataChange"`
	Stats            string             `json:"stats,omitempty"`
}

// RemoveFile tombstones a data file. The file stays on storage until a
// vacuum past its deletion timestamp.
type RemoveFile struct {
	Path                 string             `json:"path"`
	DeletionTimestamp    int64              `json:"deletionTimestamp"`
	DataChange           bool               `json:"dataChange"`
	ExtendedFileMetadata bool               `json:"extendedFileMetadata"`
	PartitionValues      map[string]*string `json:"partitionValues,omitempty"`
	Size                 int64              `json:"size,omitempty"`
}

type CommitInfo struct {
	Version             int64             `json:"version"`
	Timestamp           int64             `json:"timestamp"`
	Operation           string            `json:"operation"`
	OperationParameters map[string]string `json:"operationParameters,omitempty"`
	OperationMetrics    map[string]string `json:"operationMetrics,omitempty"`
	ReadVersion         *int64            `json:"readVersion,omitempty"`
	IsBlindAppend       *bool             `json:"isBlindAppend,omitempty"`
	EngineInfo          string            `json:"engineInfo,omitempty"`
}

// FileStats is the JSON carried in AddFile.Stats.
type FileStats struct {
	NumRecords int64                  `json:"numRecords"`
	MinValues  map[string]interface{} `json:"minValues,omitempty"`
	MaxValues  map[string]interface{} `json:"maxValues,omitempty"`
	NullCount  map[string]int64       `json:"nullCount,omitempty"`
}

// remove builds the tombstone for a.
func (a *AddFile) remove(ts int64, dataChange bool) *RemoveFile {
	return &RemoveFile{
		Path:                 a.Path,
		DeletionTimestamp:    ts,
		DataChange:           dataChange,
		ExtendedFileMetadata: true,
		PartitionValues:      a.PartitionValues,
		Size:                 a.Size,
	}
}

// NumRecords returns the row count from the file's stats, or -1.
func (a *AddFile) NumRecords() int64 {
	if a.Stats == "" {
		return -1
	}
	var s FileStats
	if err := json.Unmarshal([]byte(a.Stats), &s); err != nil {
		return -1
	}
	return s.NumRecords
}

func encodeActions(actions []Action) ([]byte, error) {
	var buf bytes.Buffer
	for _, a := range actions {
		line, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode action: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func decodeActions(data []byte) ([]Action, error) {
	var actions []Action
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var a Action
		if err := json.Unmarshal(line, &a); err != nil {
			return nil, fmt.Errorf("decode action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan commit: %w", err)
	}
	return actions, nil
}
