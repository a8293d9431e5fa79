// Copyright 2023 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cycle

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoImage is returned when no usable image appeared within the wait window
var ErrNoImage = errors.New("no image appeared in the drop folder")

// waitForImage polls the drop folder for the newest .bmp file. A file only
// counts once it can be opened for reading and has non-zero length; the
// camera writer may still be holding the handle of a file that is already
// visible in the directory listing.
func waitForImage(dropFolder string, pollInterval, timeout time.Duration) (path string, err error) {
	deadline := time.Now().Add(timeout)
	for {
		if path = newestReadyImage(dropFolder); path != "" {
			return path, nil
		}
		if time.Now().After(deadline) {
			return "", ErrNoImage
		}
		time.Sleep(pollInterval)
	}
}

func newestReadyImage(dropFolder string) string {
	entries, err := os.ReadDir(dropFolder)
	if err != nil {
		// missing drop folder counts as "no image yet", the deadline decides
		return ""
	}

	var newestPath string
	var newestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".bmp") {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}
		if newestPath == "" || info.ModTime().After(newestTime) {
			newestPath = filepath.Join(dropFolder, entry.Name())
			newestTime = info.ModTime()
		}
	}
	if newestPath == "" {
		return ""
	}

	file, err := os.Open(newestPath)
	if err != nil {
		return ""
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil || info.Size() == 0 {
		return ""
	}
	return newestPath
}
