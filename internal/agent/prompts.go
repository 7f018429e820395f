// Package agent runs a single crew member's reasoning loop.
package agent

// rolePrompt introduces the agent to itself.
const rolePrompt = `You are {role}. {backstory}
Your personal goal is: {goal}`

// toolsPrompt describes the action format when tools or coworkers are
// available.
const toolsPrompt = `You ONLY have access to the following tools, and should NEVER make up tools that are not listed here:

{tools}

IMPORTANT: Use the following format in your response:

Thought: you should always think about what to do
Action: the action to take, only one name of [{tool_names}], just the name, exactly as it's written.
Action Input: the input to the action, just a simple JSON object, enclosed in curly braces, using " to wrap keys and values.
Observation: the result of the action

Once all necessary information is gathered, return the following format:

Thought: I now know the final answer
Final Answer: the final answer to the original input question`

// noToolsPrompt is used when the agent can only answer.
const noToolsPrompt = `To give my best complete final answer to the task respond using the exact following format:

Thought: I now can give a great answer
Final Answer: Your final answer must be the great and the most complete as possible, it must be outcome described.

I MUST use these formats, my job depends on it!`

// formatReminder follows an observation about a malformed reply.
const formatReminder = `I did it wrong. I must either use a tool (one of the available tool names) with "Action:" and "Action Input:", or give my best final answer with "Final Answer:", never both at the same time.`

// taskPrompt frames the work itself.
const taskPrompt = `Current Task: {instruction}`

const expectedOutputPrompt = `This is the expected criteria for your final answer: {expected_output}
you MUST return the actual complete content as the final answer, not a summary.`

const contextPrompt = `This is the context you're working with:
{context}`

const beginPrompt = `Begin! This is VERY important to you, use the tools available and give your best Final Answer, your job depends on it!

Thought:`

// delegateDescription and askDescription describe the coworker actions.
const delegateDescription = `Delegate a specific task to one of the following coworkers: {coworkers}
The input to this tool should be the coworker, the task you want them to do, and ALL necessary context to execute the task, they know nothing about the task, so share absolutely everything you know, don't reference things but instead explain them. Input: {"coworker": "<role>", "task": "<task>", "context": "<context>"}`

const askDescription = `Ask a specific question to one of the following coworkers: {coworkers}
The input to this tool should be the coworker, the question you have for them, and ALL necessary context to ask the question properly, they know nothing about the question, so share absolutely everything you know, don't reference things but instead explain them. Input: {"coworker": "<role>", "question": "<question>", "context": "<context>"}`

// forceFinalPrompt closes the last iteration of a budget.
const forceFinalPrompt = `Now it's time you MUST give your absolute best final answer. You'll ignore all previous instructions, stop using any tools, and just return your absolute BEST Final answer.`

const reasoningPrompt = `Before you start, reflect on how you will approach this task.

{task}

Write a short, concrete plan: the steps you will take, the tools you will use, and how you will know you are done. Do not perform the task yet.`

const repromptPrompt = `You previously answered:

{previous}

{feedback}

Return ONLY the corrected answer as a single JSON object, with no commentary.`
