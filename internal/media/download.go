package media

import (
	"fmt"
	"io"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"
)

// DownloadTimeout is the maximum time to wait for a file download
const DownloadTimeout = 30 * time.Second

// DownloadFromTelegram downloads a file from Telegram using the bot API.
// The file parameter should be a telebot.File with a valid FileID.
func DownloadFromTelegram(bot *tele.Bot, file *tele.File) ([]byte, error) {
	if file == nil || file.FileID == "" {
		return nil, fmt.Errorf("invalid file: missing FileID")
	}

	// Get file info (including download URL)
	fileInfo, err := bot.FileByID(file.FileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	// Build download URL
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s",
		bot.Token, fileInfo.FilePath)

	// Download the file
	client := &http.Client{Timeout: DownloadTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	// Read the file content
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}

	return data, nil
}

// DownloadImageInput downloads a photo and verifies it is a supported
// image type. Scaling to the pixel budget happens at dispatch time, not
// here, so masks keep their original dimensions while collected.
func DownloadImageInput(bot *tele.Bot, file *tele.File) ([]byte, error) {
	data, err := DownloadFromTelegram(bot, file)
	if err != nil {
		return nil, err
	}
	if mt := DetectMIME(data); !IsSupported(mt) {
		return nil, fmt.Errorf("unsupported image type: %s", mt)
	}
	return data, nil
}
