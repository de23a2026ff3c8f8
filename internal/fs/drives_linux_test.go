//go:build linux

package fs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMounts(t *testing.T) {
	mounts := `/dev/sda1 / ext4 rw 0 0
proc /proc proc rw 0 0
tmpfs /run/user/1000 tmpfs rw 0 0
/dev/sda2 /home ext4 rw 0 0
/dev/sdb1 /media/usb\040stick vfat rw 0 0
/dev/sdc1 /mnt/gone ext4 rw 0 0
overlay /var/lib/docker/x overlay rw 0 0
/dev/sda2 /home ext4 rw 0 0
short line
`
	drives := parseMounts(strings.NewReader(mounts), func(path string) bool {
		return path != "/mnt/gone"
	})

	assert.Equal(t, []Drive{
		{Name: "/ (Root)", Path: "/"},
		{Name: "Home", Path: "/home"},
		{Name: "usb stick", Path: "/media/usb stick"},
	}, drives)
}
