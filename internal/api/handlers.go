package api

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/shineum/maildeck/internal/apperr"
	"github.com/shineum/maildeck/internal/email"
	"github.com/shineum/maildeck/internal/mailbox"
)

const mboxContentType = "application/mbox"

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type emailIDsRequest struct {
	EmailIDs []string `json:"emailIds" form:"emailIds"`
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"time":     s.now().UTC(),
		"store":    s.mailbox.StoreName(),
		"provider": s.mailbox.ProviderName(),
	})
}

func (s *Server) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid login request", err)
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return apperr.Validationf("username and password are required")
	}

	if err := s.auth.Authenticate(req.Username, req.Password); err != nil {
		return err
	}

	token, expiresAt, err := s.auth.Issue(req.Username)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"token":     token,
		"expiresAt": expiresAt.UTC(),
	})
}

func (s *Server) listFolder(folder mailbox.Folder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		view, err := s.mailbox.ListFolder(c.UserContext(), folder)
		if err != nil {
			return err
		}
		return c.JSON(view)
	}
}

func (s *Server) sendEmail(c *fiber.Ctx) error {
	req := mailbox.SendRequest{
		From:     c.FormValue("from"),
		To:       c.FormValue("to"),
		Cc:       c.FormValue("cc"),
		Bcc:      c.FormValue("bcc"),
		Subject:  c.FormValue("subject"),
		HtmlBody: c.FormValue("html"),
	}

	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return apperr.New(apperr.Validation, "invalid multipart form", err)
		}
		var files []*multipart.FileHeader
		files = append(files, form.File["attachments"]...)
		files = append(files, form.File["attachments[]"]...)
		for _, fh := range files {
			att, err := readUpload(fh)
			if err != nil {
				return apperr.New(apperr.Validation, fmt.Sprintf("failed to read attachment %q", fh.Filename), err)
			}
			req.Attachments = append(req.Attachments, att)
		}
	}

	result, err := s.mailbox.Send(c.UserContext(), req)
	if err != nil {
		return err
	}

	resp := fiber.Map{
		"message":   "Email sent successfully",
		"messageId": result.MessageID,
		"persisted": result.Persisted,
	}
	if result.Warning != "" {
		resp["warning"] = result.Warning
	}
	return c.JSON(resp)
}

func readUpload(fh *multipart.FileHeader) (email.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return email.Attachment{}, err
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return email.Attachment{}, err
	}
	return email.Attachment{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Content:     content,
	}, nil
}

func (s *Server) listSenders(c *fiber.Ctx) error {
	list, err := s.senders.List(c.UserContext())
	if err != nil {
		return apperr.Upstreamf(err, "failed to load senders")
	}
	return c.JSON(list)
}

func (s *Server) refreshSenders(c *fiber.Ctx) error {
	list, err := s.senders.Refresh(c.UserContext())
	if err != nil {
		return apperr.Upstreamf(err, "failed to refresh senders")
	}
	return c.JSON(list)
}

func (s *Server) moveToTrash(c *fiber.Ctx) error {
	ids, err := parseEmailIDs(c)
	if err != nil {
		return err
	}
	result, err := s.mailbox.MoveToTrash(c.UserContext(), ids)
	if err != nil {
		return err
	}
	return transitionResponse(c, result, "moved", "to trash")
}

func (s *Server) deletePermanently(c *fiber.Ctx) error {
	ids, err := parseEmailIDs(c)
	if err != nil {
		return err
	}
	result, err := s.mailbox.DeletePermanently(c.UserContext(), ids)
	if err != nil {
		return err
	}
	return transitionResponse(c, result, "deleted", "permanently")
}

func parseEmailIDs(c *fiber.Ctx) ([]string, error) {
	var req emailIDsRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, apperr.New(apperr.Validation, "invalid request body", err)
	}
	return req.EmailIDs, nil
}

// transitionResponse reports a batch outcome: 200 when every id succeeded,
// 207 when some failed and 500 when none succeeded.
func transitionResponse(c *fiber.Ctx, result *mailbox.TransitionResult, verb, suffix string) error {
	total := result.Succeeded + result.Failed

	status := fiber.StatusOK
	message := fmt.Sprintf("%s %d email(s) %s", capitalize(verb), total, suffix)
	switch {
	case result.Partial():
		status = apperr.Partial.Status()
		message = fmt.Sprintf("%s %d of %d email(s) %s", capitalize(verb), result.Succeeded, total, suffix)
	case !result.Complete():
		status = fiber.StatusInternalServerError
		message = fmt.Sprintf("no emails were %s", verb)
	}

	return c.Status(status).JSON(fiber.Map{
		"success": result.Complete(),
		"message": message,
		"results": result.Items,
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (s *Server) downloadAttachment(c *fiber.Ctx) error {
	key := c.Query("emailId")
	if strings.TrimSpace(key) == "" {
		return apperr.Validationf("emailId is required")
	}
	index, err := strconv.Atoi(c.Query("index"))
	if err != nil {
		return apperr.Validationf("index must be an integer")
	}

	att, err := s.mailbox.GetAttachment(c.UserContext(), key, index)
	if err != nil {
		return err
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
	c.Set(fiber.HeaderContentLength, strconv.Itoa(len(att.Content)))
	return c.Send(att.Content)
}

func (s *Server) exportFolder(c *fiber.Ctx) error {
	folder, err := mailbox.ParseFolder(c.Params("folder"))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	exported, skipped, err := s.mailbox.ExportFolder(c.UserContext(), folder, &buf)
	if err != nil {
		return err
	}

	filename := fmt.Sprintf("%s-%s.mbox", folder, s.now().UTC().Format("20060102"))
	c.Set(fiber.HeaderContentType, mboxContentType)
	c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	c.Set("X-MailDeck-Exported", strconv.Itoa(exported))
	c.Set("X-MailDeck-Skipped", strconv.Itoa(skipped))
	return c.Send(buf.Bytes())
}

func (s *Server) importMbox(c *fiber.Ctx) error {
	folder, err := mailbox.ParseFolder(c.Params("folder"))
	if err != nil {
		return err
	}

	body := c.Body()
	if len(body) == 0 {
		return apperr.Validationf("request body must contain an mbox file")
	}

	keys, err := s.mailbox.ImportMbox(c.UserContext(), folder, bytes.NewReader(body))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"imported": len(keys),
		"keys":     keys,
	})
}
