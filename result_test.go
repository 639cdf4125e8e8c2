package mediaresolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatNote(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("Video + Audio", FormatNote(true, true, "HD"))
	assert.Equal("Video", FormatNote(true, false, "720p"))
	assert.Equal("Audio", FormatNote(false, true, "128kbps"))
	assert.Equal("Video + Audio + Best Quality", FormatNote(true, true, "HD watermark-free ⭐"))
	assert.Equal("Audio + Best Quality", FormatNote(false, true, "320kbps ⭐"))
	assert.Equal("", FormatNote(false, false, ""))
}

func TestResultOf(t *testing.T) {
	assert := assert.New(t)

	result := ResultOf(NewError(KindPollTimeout, "conversion did not complete within 40 polls"))
	assert.Equal(StatusError, result.Status)
	assert.Equal("poll_timeout: conversion did not complete within 40 polls", result.Message)
	assert.Nil(result.Data)

	success := Success(&MediaData{Title: "t", Formats: []FormatVariant{{Quality: "HD"}}})
	assert.Equal(StatusSuccess, success.Status)
	assert.True(success.IsSuccess())
	assert.Empty(success.Message)
	assert.Len(success.Data.Formats, 1)
}
