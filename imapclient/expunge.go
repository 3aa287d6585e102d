package imapclient

// Expunge sends an EXPUNGE command.
//
// The sequence numbers of the expunged messages are returned, in the order
// sent by the server.
func (c *Client) Expunge() ([]uint32, error) {
	var seqNums []uint32
	_, err := c.execute("EXPUNGE", nil, func(resp *response) (bool, error) {
		if resp.name != "EXPUNGE" {
			return false, nil
		}
		c.handleExpunge()
		seqNums = append(seqNums, resp.num)
		return true, nil
	})
	return seqNums, err
}

func (c *Client) handleExpunge() {
	if c.mailbox != nil && c.mailbox.NumMessages > 0 {
		c.mailbox.NumMessages--
	}
}
