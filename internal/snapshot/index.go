// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package snapshot

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// FilenameIndex is an optional durable key/value index from a snapshot
// "kind" (and UTC day) to the exact filename last written, so a warm-start
// loader can skip a directory scan once the fleet of snapshot kinds grows
// large. Backed by goleveldb, mirroring the teacher's levelDB wrapper.
type FilenameIndex struct {
	db *leveldb.DB
}

// OpenFilenameIndex opens (creating if needed) a goleveldb database at
// path for use as a snapshot filename index.
func OpenFilenameIndex(path string) (*FilenameIndex, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{OpenFilesCacheCapacity: 16})
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}
	return &FilenameIndex{db: db}, nil
}

func indexKey(kind, day string) []byte {
	return []byte(kind + "\x00" + day)
}

// Put records that kind's snapshot for the given UTC day lives at
// filename.
func (idx *FilenameIndex) Put(kind, day, filename string) error {
	return idx.db.Put(indexKey(kind, day), []byte(filename), nil)
}

// Get returns the filename recorded for kind/day, if any.
func (idx *FilenameIndex) Get(kind, day string) (string, bool, error) {
	v, err := idx.db.Get(indexKey(kind, day))
	if err == leveldb.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

// Close releases the underlying leveldb handle.
func (idx *FilenameIndex) Close() error {
	return idx.db.Close()
}
