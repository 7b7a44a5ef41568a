package kvdb

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"zkrollup/common"
	"zkrollup/log"

	"github.com/iden3/go-merkletree/db"
	"github.com/iden3/go-merkletree/db/pebble"
)

const (
	// PathBatchNum defines the subpath of the Batch Checkpoint in the
	// subpath of the KVDB
	PathBatchNum = "BatchNum"
	// PathCurrent defines the subpath of the current Batch in the subpath
	// of the KVDB
	PathCurrent = "current"
	// DefaultKeep is the default value for the Keep parameter
	DefaultKeep = 128
)

// ErrCheckpointNotFound is used when a checkpoint for the requested batch is
// not in the storage, either because the batch does not exist yet or because
// the checkpoint has been deleted
var ErrCheckpointNotFound = fmt.Errorf("checkpoint not found")

// KVDB represents the Key-Value DB object.  The state of the ledger lives in
// 'current', and after every committed batch a checkpoint of 'current' is
// stored in 'BatchNum<n>'.
type KVDB struct {
	cfg             Config
	db              *pebble.Storage
	mutexCheckpoint sync.Mutex
	mutexDelOld     sync.Mutex
	wg              sync.WaitGroup
}

// Config of the KVDB
type Config struct {
	// Path where the checkpoints will be stored
	Path string
	// Keep is the number of old checkpoints to keep.  If 0, all
	// checkpoints are kept.
	Keep int
}

// NewKVDB opens (or creates) the KVDB at cfg.Path.  Checkpoints older than the
// value defined by `keep` will be deleted.
func NewKVDB(cfg Config) (*KVDB, error) {
	if cfg.Path == "" {
		return nil, common.Wrap(fmt.Errorf("kvdb path can not be empty"))
	}
	sto, err := pebble.NewPebbleStorage(path.Join(cfg.Path, PathCurrent), false)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return &KVDB{
		cfg: cfg,
		db:  sto,
	}, nil
}

// DB returns the db.Storage of the current state
func (k *KVDB) DB() db.Storage {
	return k.db
}

// NewTx opens a write transaction over the current state
func (k *KVDB) NewTx() (db.Tx, error) {
	tx, err := k.db.NewTx()
	if err != nil {
		return nil, common.Wrap(err)
	}
	return tx, nil
}

func (k *KVDB) checkpointPath(batchNum common.BatchNum) string {
	return path.Join(k.cfg.Path, fmt.Sprintf("%s%d", PathBatchNum, batchNum))
}

// ListCheckpoints returns the list of batchNums of the checkpoints, sorted.
func (k *KVDB) ListCheckpoints() ([]int, error) {
	files, err := os.ReadDir(k.cfg.Path)
	if err != nil {
		return nil, common.Wrap(err)
	}
	checkpoints := []int{}
	var checkpoint int
	pattern := fmt.Sprintf("%s%%d", PathBatchNum)
	for _, file := range files {
		fileName := file.Name()
		if file.IsDir() && strings.HasPrefix(fileName, PathBatchNum) {
			if _, err := fmt.Sscanf(fileName, pattern, &checkpoint); err != nil {
				return nil, common.Wrap(err)
			}
			checkpoints = append(checkpoints, checkpoint)
		}
	}
	sort.Ints(checkpoints)
	return checkpoints, nil
}

// CheckpointExists returns true if the checkpoint exists
func (k *KVDB) CheckpointExists(batchNum common.BatchNum) (bool, error) {
	if _, err := os.Stat(k.checkpointPath(batchNum)); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, common.Wrap(err)
	}
	return true, nil
}

// DeleteCheckpoint removes if exist the checkpoint of the given batchNum
func (k *KVDB) DeleteCheckpoint(batchNum common.BatchNum) error {
	checkpointPath := k.checkpointPath(batchNum)
	if _, err := os.Stat(checkpointPath); os.IsNotExist(err) {
		return common.Wrap(fmt.Errorf("Checkpoint with batchNum %d does not exist in DB", batchNum))
	} else if err != nil {
		return common.Wrap(err)
	}

	k.mutexCheckpoint.Lock()
	defer k.mutexCheckpoint.Unlock()
	return common.Wrap(os.RemoveAll(checkpointPath))
}

// MakeCheckpoint stores a checkpoint of the current state for the given
// batchNum, replacing a previous checkpoint of the same batchNum, and prunes
// the old checkpoints in the background.
func (k *KVDB) MakeCheckpoint(batchNum common.BatchNum) error {
	checkpointPath := k.checkpointPath(batchNum)

	k.mutexCheckpoint.Lock()
	// if checkpoint BatchNum already exist in disk, delete it
	if _, err := os.Stat(checkpointPath); os.IsNotExist(err) {
	} else if err != nil {
		k.mutexCheckpoint.Unlock()
		return common.Wrap(err)
	} else {
		if err := os.RemoveAll(checkpointPath); err != nil {
			k.mutexCheckpoint.Unlock()
			return common.Wrap(err)
		}
	}
	err := k.db.Pebble().Checkpoint(checkpointPath)
	k.mutexCheckpoint.Unlock()
	if err != nil {
		return common.Wrap(err)
	}
	log.Debugw("kvdb checkpoint", "batch", batchNum, "path", checkpointPath)

	k.wg.Add(1)
	go func() {
		delErr := k.DeleteOldCheckpoints()
		if delErr != nil {
			log.Errorw("delete old checkpoints failed", "err", delErr)
		}
		k.wg.Done()
	}()

	return nil
}

// ReadCheckpoint opens the checkpoint of batchNum and calls fn with its
// storage.  The checkpoint can not be deleted while fn runs.
func (k *KVDB) ReadCheckpoint(batchNum common.BatchNum, fn func(sto db.Storage) error) error {
	k.mutexCheckpoint.Lock()
	defer k.mutexCheckpoint.Unlock()

	checkpointPath := k.checkpointPath(batchNum)
	if _, err := os.Stat(checkpointPath); os.IsNotExist(err) {
		return common.Wrap(ErrCheckpointNotFound)
	} else if err != nil {
		return common.Wrap(err)
	}
	sto, err := pebble.NewPebbleStorage(checkpointPath, true)
	if err != nil {
		return common.Wrap(err)
	}
	defer sto.Close()
	return fn(sto)
}

// DeleteOldCheckpoints deletes old checkpoints when there are more than
// `cfg.Keep` checkpoints
func (k *KVDB) DeleteOldCheckpoints() error {
	k.mutexDelOld.Lock()
	defer k.mutexDelOld.Unlock()

	list, err := k.ListCheckpoints()
	if err != nil {
		return common.Wrap(err)
	}
	if k.cfg.Keep > 0 && len(list) > k.cfg.Keep {
		for _, checkpoint := range list[:len(list)-k.cfg.Keep] {
			if err := k.DeleteCheckpoint(common.BatchNum(checkpoint)); err != nil {
				return common.Wrap(err)
			}
		}
	}
	return nil
}

// Close the DB
func (k *KVDB) Close() {
	// wait for deletion of old checkpoints
	k.wg.Wait()
	if k.db != nil {
		k.db.Close()
		k.db = nil
	}
}
