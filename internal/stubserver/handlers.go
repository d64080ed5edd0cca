package stubserver

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/ageniuscoder/mmchat/client/internal/chat"
	"github.com/ageniuscoder/mmchat/client/internal/conversations"
	"github.com/gin-gonic/gin"
)

type credentialsReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type privateReq struct {
	OtherUserID int64 `json:"other_user_id" binding:"required"`
}

type groupReq struct {
	Name      string  `json:"name" binding:"required"`
	MemberIDs []int64 `json:"member_ids"`
}

type updateReq struct {
	Content string `json:"content" binding:"required"`
}

type pageReq struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

func (s *Server) signup(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		fail(c, http.StatusInternalServerError, "hash failed")
		return
	}
	uid, err := s.insert(`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		req.Username, hash, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		fail(c, http.StatusConflict, "username already exists")
		return
	}
	tok, err := newToken(s.secret, uid, s.ttlMin)
	if err != nil {
		fail(c, http.StatusInternalServerError, "token generation failed")
		return
	}
	ok(c, gin.H{"token": tok, "user_id": uid})
}

func (s *Server) login(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	var id int64
	var hash string
	row := s.DB.QueryRow(s.q(`SELECT id, password_hash FROM users WHERE username=?`), req.Username)
	if err := row.Scan(&id, &hash); err != nil {
		fail(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := checkPassword(hash, req.Password); err != nil {
		fail(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	tok, err := newToken(s.secret, id, s.ttlMin)
	if err != nil {
		fail(c, http.StatusInternalServerError, "token generation failed")
		return
	}
	ok(c, gin.H{"token": tok, "user_id": id})
}

func (s *Server) listConversations(c *gin.Context) {
	uid := mustUserID(c)
	rows, err := s.DB.Query(s.q(`SELECT conversation_id FROM participants WHERE user_id=?`), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch conversations")
		return
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}

	list := make([]conversations.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.loadConversation(id, uid)
		if err != nil {
			s.log.Warn("stub: load conversation failed", "id", id, "err", err)
			continue
		}
		list = append(list, conv)
	}
	ok(c, gin.H{"conversations": list})
}

func (s *Server) createOrGetPrivate(c *gin.Context) {
	uid := mustUserID(c)
	var req privateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	// find existing conversation
	row := s.DB.QueryRow(s.q(`SELECT c.id FROM conversations c
		JOIN participants p1 ON p1.conversation_id=c.id AND p1.user_id=?
		JOIN participants p2 ON p2.conversation_id=c.id AND p2.user_id=?
		WHERE c.is_group_chat=0 LIMIT 1`), uid, req.OtherUserID)

	var id int64
	if err := row.Scan(&id); err == nil {
		s.respondConversation(c, id, uid)
		return
	}

	tx, err := s.DB.Begin()
	if err != nil {
		fail(c, http.StatusInternalServerError, "db transaction failed")
		return
	}
	defer tx.Rollback()

	id, err = s.insertConversationTx(tx, sql.NullString{}, false)
	if err != nil {
		fail(c, http.StatusBadRequest, "create conversation failed")
		return
	}
	if _, err := tx.Exec(s.q(`INSERT INTO participants (conversation_id, user_id, is_admin) VALUES (?, ?, 0), (?, ?, 0)`),
		id, uid, id, req.OtherUserID); err != nil {
		fail(c, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := tx.Commit(); err != nil {
		fail(c, http.StatusInternalServerError, "commit failed")
		return
	}
	s.respondConversation(c, id, uid)
}

func (s *Server) createGroup(c *gin.Context) {
	uid := mustUserID(c)
	var req groupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	cid, err := s.insert(`INSERT INTO conversations (name, is_group_chat, created_at) VALUES (?, 1, ?)`,
		req.Name, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		fail(c, http.StatusBadRequest, "create group failed")
		return
	}
	_, _ = s.DB.Exec(s.q(`INSERT INTO participants (conversation_id, user_id, is_admin) VALUES (?, ?, 1)`), cid, uid)
	for _, mid := range req.MemberIDs {
		if mid == uid {
			continue
		}
		_, _ = s.DB.Exec(s.q(`INSERT INTO participants (conversation_id, user_id, is_admin) VALUES (?, ?, 0)`), cid, mid)
	}
	s.respondConversation(c, cid, uid)
}

func (s *Server) listMessages(c *gin.Context) {
	uid := mustUserID(c)
	cid, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if !s.Hub.isParticipant(cid, uid) {
		fail(c, http.StatusForbidden, "not a participant")
		return
	}
	var q pageReq
	_ = c.BindQuery(&q)
	if q.Limit <= 0 {
		q.Limit = 50
	}

	rows, err := s.DB.Query(s.q(`
		SELECT m.id, m.sender_id, u.username, m.content, m.local_id, m.sent_at, m.edited_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.conversation_id=?
		ORDER BY m.sent_at ASC LIMIT ? OFFSET ?`), cid, q.Limit, q.Offset)
	if err != nil {
		fail(c, http.StatusInternalServerError, "db error")
		return
	}
	defer rows.Close()

	list := make([]chat.Message, 0, q.Limit)
	for rows.Next() {
		var (
			m       chat.Message
			localID sql.NullString
			sentAt  string
			edited  sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderUsername, &m.Content, &localID, &sentAt, &edited); err != nil {
			continue
		}
		m.ConversationID = cid
		m.LocalID = localID.String
		m.SentAt = parseTime(sentAt)
		m.State = chat.StateConfirmed
		if edited.Valid {
			m.State = chat.StateEdited
		}
		list = append(list, m)
	}
	ok(c, gin.H{"messages": list})
}

func (s *Server) updateMessage(c *gin.Context) {
	uid := mustUserID(c)
	mid, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid message id")
		return
	}
	var req updateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	var cid, senderID int64
	row := s.DB.QueryRow(s.q(`SELECT conversation_id, sender_id FROM messages WHERE id=?`), mid)
	if err := row.Scan(&cid, &senderID); err != nil {
		fail(c, http.StatusNotFound, "message not found")
		return
	}
	if senderID != uid {
		fail(c, http.StatusForbidden, "not the sender")
		return
	}
	if _, err := s.DB.Exec(s.q(`UPDATE messages SET content=?, edited_at=? WHERE id=?`),
		req.Content, time.Now().UTC().Format(time.RFC3339Nano), mid); err != nil {
		fail(c, http.StatusInternalServerError, "update failed")
		return
	}

	s.Hub.Broadcast(chat.Event{
		Type:           chat.EventMessageEdited,
		ConversationID: cid,
		MessageID:      mid,
		Content:        req.Content,
	})
	ok(c, gin.H{"message_id": mid, "content": req.Content})
}

func (s *Server) respondConversation(c *gin.Context, conversationID, viewerID int64) {
	conv, err := s.loadConversation(conversationID, viewerID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "load conversation failed")
		return
	}
	ok(c, gin.H{"conversation": conv})
}

func (s *Server) loadConversation(id, viewerID int64) (conversations.Conversation, error) {
	var (
		name      sql.NullString
		isGroup   bool
		createdAt string
	)
	row := s.DB.QueryRow(s.q(`SELECT name, is_group_chat, created_at FROM conversations WHERE id=?`), id)
	if err := row.Scan(&name, &isGroup, &createdAt); err != nil {
		return conversations.Conversation{}, err
	}

	conv := conversations.Conversation{
		ID:        id,
		Name:      name.String,
		IsGroup:   isGroup,
		CreatedAt: parseTime(createdAt),
	}

	rows, err := s.DB.Query(s.q(`
		SELECT p.user_id, u.username FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id=?`), id)
	if err != nil {
		return conversations.Conversation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var uid int64
		var username string
		if err := rows.Scan(&uid, &username); err != nil {
			continue
		}
		conv.ParticipantIDs = append(conv.ParticipantIDs, uid)
		if !isGroup && uid != viewerID {
			conv.CounterpartUsername = username
		}
	}

	conv.LastActivityAt = conv.CreatedAt
	var lastSent sql.NullString
	_ = s.DB.QueryRow(s.q(`SELECT MAX(sent_at) FROM messages WHERE conversation_id=?`), id).Scan(&lastSent)
	if lastSent.Valid {
		if at := parseTime(lastSent.String); at.After(conv.LastActivityAt) {
			conv.LastActivityAt = at
		}
	}
	return conv, nil
}

func (s *Server) insertConversationTx(tx *sql.Tx, name sql.NullString, isGroup bool) (int64, error) {
	g := 0
	if isGroup {
		g = 1
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if s.driver == "postgres" {
		var id int64
		err := tx.QueryRow(s.q(`INSERT INTO conversations (name, is_group_chat, created_at) VALUES (?, ?, ?)`)+" RETURNING id",
			name, g, now).Scan(&id)
		return id, err
	}
	res, err := tx.Exec(s.q(`INSERT INTO conversations (name, is_group_chat, created_at) VALUES (?, ?, ?)`), name, g, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
